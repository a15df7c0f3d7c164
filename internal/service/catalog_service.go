package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
)

const catalogCachePattern = "catalog:*"

type catalogRepository interface {
	ListClients(ctx context.Context, filter models.CatalogFilter) ([]models.Client, error)
	FindClient(ctx context.Context, id int64) (*models.Client, error)
	CreateClient(ctx context.Context, client *models.Client) error
	UpdateClient(ctx context.Context, client *models.Client) error
	DeactivateClient(ctx context.Context, id int64) error
	ListSites(ctx context.Context, filter models.CatalogFilter) ([]models.Site, error)
	FindSite(ctx context.Context, id int64) (*models.Site, error)
	CreateSite(ctx context.Context, site *models.Site) error
	UpdateSite(ctx context.Context, site *models.Site) error
	DeactivateSite(ctx context.Context, id int64) error
	ListSystems(ctx context.Context, filter models.CatalogFilter) ([]models.System, error)
	FindSystem(ctx context.Context, id int64) (*models.System, error)
	CreateSystem(ctx context.Context, system *models.System) error
	UpdateSystem(ctx context.Context, system *models.System) error
	DeactivateSystem(ctx context.Context, id int64) error
	CountIncidents(ctx context.Context, column string, id int64) (int, error)
}

// CatalogService manages clients, their sites and the system categories. Active lists are
// served from the cache when one is configured.
type CatalogService struct {
	repo      catalogRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(repo catalogRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CatalogService{repo: repo, cache: cache, validator: validate, logger: logger}
}

// ListClients returns clients. Only the active list is cached.
func (s *CatalogService) ListClients(ctx context.Context, activeOnly bool) ([]models.Client, error) {
	key := "catalog:clients:active"
	var clients []models.Client
	if activeOnly && s.cached(ctx, key, &clients) {
		return clients, nil
	}
	clients, err := s.repo.ListClients(ctx, models.CatalogFilter{ActiveOnly: activeOnly})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list clients")
	}
	if activeOnly {
		s.store(ctx, key, clients)
	}
	return clients, nil
}

// GetClient returns one client.
func (s *CatalogService) GetClient(ctx context.Context, id int64) (*models.Client, error) {
	client, err := s.repo.FindClient(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "client not found", "failed to load client")
	}
	return client, nil
}

// CreateClient registers a client. The document number is unique.
func (s *CatalogService) CreateClient(ctx context.Context, req dto.ClientRequest) (*models.Client, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid client payload")
	}
	client := &models.Client{Active: true}
	applyClient(client, req)
	if err := s.repo.CreateClient(ctx, client); err != nil {
		return nil, persistenceError(err, "client not found", "failed to create client")
	}
	s.invalidate(ctx)
	return client, nil
}

// UpdateClient edits a client. Switching it to inactive goes through the incident guard.
func (s *CatalogService) UpdateClient(ctx context.Context, id int64, req dto.ClientRequest) (*models.Client, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid client payload")
	}
	client, err := s.repo.FindClient(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "client not found", "failed to load client")
	}
	if client.Active && req.Active != nil && !*req.Active {
		if err := s.ensureUnreferenced(ctx, "client_id", id, "client"); err != nil {
			return nil, err
		}
	}
	applyClient(client, req)
	if err := s.repo.UpdateClient(ctx, client); err != nil {
		return nil, persistenceError(err, "client not found", "failed to update client")
	}
	s.invalidate(ctx)
	return client, nil
}

// DeactivateClient soft-deletes a client with no incidents.
func (s *CatalogService) DeactivateClient(ctx context.Context, id int64) error {
	if _, err := s.repo.FindClient(ctx, id); err != nil {
		return persistenceError(err, "client not found", "failed to load client")
	}
	if err := s.ensureUnreferenced(ctx, "client_id", id, "client"); err != nil {
		return err
	}
	if err := s.repo.DeactivateClient(ctx, id); err != nil {
		return persistenceError(err, "client not found", "failed to deactivate client")
	}
	s.invalidate(ctx)
	return nil
}

// ListSites returns the sites of a client.
func (s *CatalogService) ListSites(ctx context.Context, clientID int64, activeOnly bool) ([]models.Site, error) {
	key := fmt.Sprintf("catalog:sites:%d:active", clientID)
	var sites []models.Site
	if activeOnly && s.cached(ctx, key, &sites) {
		return sites, nil
	}
	sites, err := s.repo.ListSites(ctx, models.CatalogFilter{ActiveOnly: activeOnly, ClientID: clientID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sites")
	}
	if activeOnly {
		s.store(ctx, key, sites)
	}
	return sites, nil
}

// GetSite returns one site.
func (s *CatalogService) GetSite(ctx context.Context, id int64) (*models.Site, error) {
	site, err := s.repo.FindSite(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "site not found", "failed to load site")
	}
	return site, nil
}

// CreateSite adds a site to an existing client.
func (s *CatalogService) CreateSite(ctx context.Context, clientID int64, req dto.SiteRequest) (*models.Site, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid site payload")
	}
	client, err := s.repo.FindClient(ctx, clientID)
	if err != nil {
		return nil, persistenceError(err, "client not found", "failed to load client")
	}
	site := &models.Site{ClientID: client.ID, ClientName: client.Name, Active: true}
	applySite(site, req)
	if err := s.repo.CreateSite(ctx, site); err != nil {
		return nil, persistenceError(err, "site not found", "failed to create site")
	}
	s.invalidate(ctx)
	return site, nil
}

// UpdateSite edits a site. A non-zero ClientID moves it to another client.
func (s *CatalogService) UpdateSite(ctx context.Context, id int64, req dto.SiteRequest) (*models.Site, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid site payload")
	}
	site, err := s.repo.FindSite(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "site not found", "failed to load site")
	}
	if req.ClientID > 0 && req.ClientID != site.ClientID {
		client, err := s.repo.FindClient(ctx, req.ClientID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.FieldError("client_id", "client does not exist")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load client")
		}
		site.ClientID = client.ID
		site.ClientName = client.Name
	}
	if site.Active && req.Active != nil && !*req.Active {
		if err := s.ensureUnreferenced(ctx, "site_id", id, "site"); err != nil {
			return nil, err
		}
	}
	applySite(site, req)
	if err := s.repo.UpdateSite(ctx, site); err != nil {
		return nil, persistenceError(err, "site not found", "failed to update site")
	}
	s.invalidate(ctx)
	return site, nil
}

// DeactivateSite soft-deletes a site with no incidents.
func (s *CatalogService) DeactivateSite(ctx context.Context, id int64) error {
	if _, err := s.repo.FindSite(ctx, id); err != nil {
		return persistenceError(err, "site not found", "failed to load site")
	}
	if err := s.ensureUnreferenced(ctx, "site_id", id, "site"); err != nil {
		return err
	}
	if err := s.repo.DeactivateSite(ctx, id); err != nil {
		return persistenceError(err, "site not found", "failed to deactivate site")
	}
	s.invalidate(ctx)
	return nil
}

// ListSystems returns the system categories.
func (s *CatalogService) ListSystems(ctx context.Context, activeOnly bool) ([]models.System, error) {
	key := "catalog:systems:active"
	var systems []models.System
	if activeOnly && s.cached(ctx, key, &systems) {
		return systems, nil
	}
	systems, err := s.repo.ListSystems(ctx, models.CatalogFilter{ActiveOnly: activeOnly})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list systems")
	}
	if activeOnly {
		s.store(ctx, key, systems)
	}
	return systems, nil
}

// CreateSystem adds a system category.
func (s *CatalogService) CreateSystem(ctx context.Context, req dto.SystemRequest) (*models.System, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid system payload")
	}
	system := &models.System{Active: true}
	applySystem(system, req)
	if err := s.repo.CreateSystem(ctx, system); err != nil {
		return nil, persistenceError(err, "system not found", "failed to create system")
	}
	s.invalidate(ctx)
	return system, nil
}

// UpdateSystem edits a system category.
func (s *CatalogService) UpdateSystem(ctx context.Context, id int64, req dto.SystemRequest) (*models.System, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid system payload")
	}
	system, err := s.repo.FindSystem(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "system not found", "failed to load system")
	}
	if system.Active && req.Active != nil && !*req.Active {
		if err := s.ensureUnreferenced(ctx, "system_id", id, "system"); err != nil {
			return nil, err
		}
	}
	applySystem(system, req)
	if err := s.repo.UpdateSystem(ctx, system); err != nil {
		return nil, persistenceError(err, "system not found", "failed to update system")
	}
	s.invalidate(ctx)
	return system, nil
}

// DeactivateSystem soft-deletes a system with no incidents.
func (s *CatalogService) DeactivateSystem(ctx context.Context, id int64) error {
	if _, err := s.repo.FindSystem(ctx, id); err != nil {
		return persistenceError(err, "system not found", "failed to load system")
	}
	if err := s.ensureUnreferenced(ctx, "system_id", id, "system"); err != nil {
		return err
	}
	if err := s.repo.DeactivateSystem(ctx, id); err != nil {
		return persistenceError(err, "system not found", "failed to deactivate system")
	}
	s.invalidate(ctx)
	return nil
}

func (s *CatalogService) ensureUnreferenced(ctx context.Context, column string, id int64, entity string) error {
	total, err := s.repo.CountIncidents(ctx, column, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count incidents")
	}
	if total > 0 {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("%s has %d associated incidents", entity, total))
	}
	return nil
}

// cached reports a hit. Cache failures fall through to the database.
func (s *CatalogService) cached(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.Get(ctx, key, dest)
	return err == nil && hit
}

func (s *CatalogService) store(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Set(ctx, key, value, 0)
}

func (s *CatalogService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Invalidate(ctx, catalogCachePattern)
}

func applyClient(client *models.Client, req dto.ClientRequest) {
	client.Name = strings.TrimSpace(req.Name)
	client.DocumentType = strings.TrimSpace(req.DocumentType)
	client.DocumentNumber = strings.TrimSpace(req.DocumentNumber)
	client.Email = strings.ToLower(strings.TrimSpace(req.Email))
	client.Phone = strings.TrimSpace(req.Phone)
	client.Address = strings.TrimSpace(req.Address)
	client.MainContact = strings.TrimSpace(req.MainContact)
	client.ContactTitle = strings.TrimSpace(req.ContactTitle)
	if req.Active != nil {
		client.Active = *req.Active
	}
}

func applySite(site *models.Site, req dto.SiteRequest) {
	site.Name = strings.TrimSpace(req.Name)
	site.Address = strings.TrimSpace(req.Address)
	site.Phone = strings.TrimSpace(req.Phone)
	site.Email = strings.ToLower(strings.TrimSpace(req.Email))
	site.ContactName = strings.TrimSpace(req.ContactName)
	site.ContactTitle = strings.TrimSpace(req.ContactTitle)
	if req.Active != nil {
		site.Active = *req.Active
	}
}

func applySystem(system *models.System, req dto.SystemRequest) {
	system.Name = strings.TrimSpace(req.Name)
	system.Description = strings.TrimSpace(req.Description)
	if req.Active != nil {
		system.Active = *req.Active
	}
}
