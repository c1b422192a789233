package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

func TestCredentialStorage_RoundTripIsUsable(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewCredentialStorage(dir, arbor.NewNoOpLogger())
	require.NoError(t, err)
	ctx := context.Background()

	expires := float64(time.Now().Add(30 * 24 * time.Hour).Unix())
	bundle := &models.CredentialBundle{
		AccountID: "jane@example.com_pw",
		Cookies: []models.Cookie{
			{Name: "li_at", Value: "a", Domain: ".www.linkedin.com", Path: "/", Expires: expires, HTTPOnly: true, Secure: true},
			{Name: "li_rm", Value: "b", Domain: ".www.linkedin.com", Path: "/", Expires: expires},
			{Name: "JSESSIONID", Value: "c", Domain: ".www.linkedin.com", Path: "/", Expires: -1, Session: true},
		},
	}
	require.NoError(t, storage.Save(ctx, bundle))

	// File name is sanitized
	_, err = os.Stat(filepath.Join(dir, "jane_example.com_pw.json"))
	require.NoError(t, err)

	loaded, err := storage.Load(ctx, "jane@example.com_pw")
	require.NoError(t, err)
	assert.Equal(t, bundle.Cookies, loaded.Cookies)

	validation := models.ValidateBundle(loaded, time.Now(), time.Hour)
	assert.True(t, validation.Usable)
}

func TestCredentialStorage_MissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewCredentialStorage(dir, arbor.NewNoOpLogger())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = storage.Load(ctx, "nobody")
	assert.True(t, errors.Is(err, interfaces.ErrCredentialsNotFound))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0600))
	_, err = storage.Load(ctx, "broken")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, interfaces.ErrCredentialsNotFound))

	require.NoError(t, storage.Delete(ctx, "nobody"))
}
