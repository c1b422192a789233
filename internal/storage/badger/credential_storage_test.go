package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

func TestCredentialStorage_ReplaceWholesale(t *testing.T) {
	db, err := OpenAt(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	storage := NewCredentialStorage(db, arbor.NewNoOpLogger())
	ctx := context.Background()

	_, err = storage.Load(ctx, "primary")
	assert.True(t, errors.Is(err, interfaces.ErrCredentialsNotFound))

	future := float64(time.Now().Add(24 * time.Hour).Unix())
	require.NoError(t, storage.Save(ctx, &models.CredentialBundle{
		AccountID: "primary",
		Cookies: []models.Cookie{
			{Name: "li_at", Value: "1", Expires: future},
			{Name: "stale", Value: "x", Expires: future},
		},
	}))
	require.NoError(t, storage.Save(ctx, &models.CredentialBundle{
		AccountID: "primary",
		Cookies:   []models.Cookie{{Name: "li_at", Value: "2", Expires: future}},
	}))

	bundle, err := storage.Load(ctx, "primary")
	require.NoError(t, err)
	require.Len(t, bundle.Cookies, 1)
	assert.Equal(t, "2", bundle.Cookies[0].Value)

	require.NoError(t, storage.Delete(ctx, "primary"))
	require.NoError(t, storage.Delete(ctx, "primary"))
}
