package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	require.False(t, repo.Enabled())

	var dest []string
	require.ErrorIs(t, repo.Get(context.Background(), "catalog:clients:active", &dest), appErrors.ErrCacheMiss)
	require.NoError(t, repo.Set(context.Background(), "catalog:clients:active", []string{"ACME"}, time.Minute))
	require.NoError(t, repo.DeleteByPattern(context.Background(), "catalog:*"))
	require.NoError(t, repo.Close())
}
