package service

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/CristianBACSCol/ERP-BACS/pkg/database"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
)

// constraintFields maps unique constraints to the request field they guard.
var constraintFields = map[string]string{
	"users_email_key":             "email",
	"users_document_number_key":   "document_number",
	"roles_name_key":              "name",
	"clients_document_number_key": "document_number",
	"systems_name_key":            "name",
	"sequence_indices_prefix_key": "prefix",
	"incidents_code_key":          "code",
}

func idString(id int64) *string {
	s := strconv.FormatInt(id, 10)
	return &s
}

// persistenceError translates repository errors into typed errors: missing rows become
// notFound and unique violations become INTEGRITY_CONFLICT naming the field.
func persistenceError(err error, notFound, internal string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	if constraint, ok := database.UniqueViolation(err); ok {
		field := constraintFields[constraint]
		if field == "" {
			field = strings.TrimSuffix(constraint, "_key")
		}
		conflict := appErrors.Wrap(err, appErrors.ErrIntegrityConflict.Code, appErrors.ErrIntegrityConflict.Status, field+" already exists")
		conflict.Field = field
		return conflict
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}

func validationError(err error, message string) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		wrapped := appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
		wrapped.Field = snakeCase(verrs[0].Field())
		return wrapped
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

var acronyms = strings.NewReplacer("IDs", "Ids", "ID", "Id", "URL", "Url")

func snakeCase(name string) string {
	name = acronyms.Replace(name)
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
