package gmailcli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *TokenStore {
	t.Helper()
	return NewTokenStore(filepath.Join(t.TempDir(), "token.json"))
}

func TestTokenStoreRoundTrip(t *testing.T) {
	store := tempStore(t)
	want := &Credential{
		AccessToken:   "at",
		RefreshToken:  "rt",
		TokenEndpoint: "https://oauth2.googleapis.com/token",
		ClientID:      "id",
		ClientSecret:  "secret",
		Expiry:        time.Now().Add(time.Hour).Round(time.Second),
	}

	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.Equal(t, want.TokenEndpoint, got.TokenEndpoint)
	assert.Equal(t, want.ClientID, got.ClientID)
	assert.Equal(t, want.ClientSecret, got.ClientSecret)
	assert.True(t, got.Expiry.Equal(want.Expiry))

	info, err := os.Stat(store.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestTokenStoreLoadAbsent(t *testing.T) {
	store := tempStore(t)
	got, err := store.Load()
	assert.NoError(t, err)
	assert.Nil(t, got, "absent token file should load as nil, not error")
}

func TestTokenStoreLoadCorruptFailsSoft(t *testing.T) {
	store := tempStore(t)
	require.NoError(t, os.WriteFile(store.Path, []byte("{truncated"), 0600))

	got, err := store.Load()
	assert.NoError(t, err, "corrupt token file should fail soft")
	assert.Nil(t, got)
}

func TestTokenStoreSaveLeavesNoTempFiles(t *testing.T) {
	store := tempStore(t)
	require.NoError(t, store.Save(&Credential{AccessToken: "at"}))

	entries, err := os.ReadDir(filepath.Dir(store.Path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(store.Path), entries[0].Name())
}

func TestCredentialUsable(t *testing.T) {
	fresh := &Credential{AccessToken: "at", Expiry: time.Now().Add(time.Hour)}
	assert.True(t, fresh.Usable())
	assert.False(t, fresh.Expired())

	refreshable := &Credential{
		AccessToken:   "at",
		RefreshToken:  "rt",
		TokenEndpoint: "https://example.com/token",
		ClientID:      "id",
		ClientSecret:  "secret",
		Expiry:        time.Now().Add(-time.Hour),
	}
	assert.True(t, refreshable.Expired())
	assert.True(t, refreshable.Refreshable())
	assert.True(t, refreshable.Usable(), "expired credential with full refresh fields is still usable")

	dead := &Credential{AccessToken: "at", Expiry: time.Now().Add(-time.Hour)}
	assert.False(t, dead.Usable())

	partial := &Credential{
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       time.Now().Add(-time.Hour),
		// Missing token endpoint and client identity.
	}
	assert.False(t, partial.Usable())
}
