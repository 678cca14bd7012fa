package gmailcli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Credential is everything needed to act on the user's behalf against
// the Gmail API. It is a plain value: no hidden service handle, no
// process-wide cache.
type Credential struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	TokenEndpoint string    `json:"token_endpoint,omitempty"`
	ClientID      string    `json:"client_id,omitempty"`
	ClientSecret  string    `json:"client_secret,omitempty"`
	Expiry        time.Time `json:"expiry,omitempty"`
}

// Expired reports whether the access token is past its expiry. A zero
// expiry means the token never expires.
func (c *Credential) Expired() bool {
	return !c.Expiry.IsZero() && !time.Now().Before(c.Expiry)
}

// Refreshable reports whether the credential carries everything needed
// for a silent refresh against the token endpoint.
func (c *Credential) Refreshable() bool {
	return c.RefreshToken != "" && c.TokenEndpoint != "" && c.ClientID != "" && c.ClientSecret != ""
}

// Usable reports whether the credential can serve at least one more
// request, possibly after a refresh.
func (c *Credential) Usable() bool {
	if c.AccessToken != "" && !c.Expired() {
		return true
	}
	return c.Refreshable()
}

// Token returns the oauth2 view of the credential.
func (c *Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
		TokenType:    "Bearer",
	}
}

// TokenStore persists a Credential as an opaque JSON blob on disk.
type TokenStore struct {
	Path string
}

// NewTokenStore returns a store backed by the given file path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{Path: path}
}

// Load reads the stored credential. A missing, corrupt, or
// partially-written file is not an error: it returns (nil, nil) and
// forces re-authorization upstream.
func (s *TokenStore) Load() (*Credential, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("Reading token file %s: %v", s.Path, err)
		}
		return nil, nil
	}
	var cred Credential
	if err := json.Unmarshal(b, &cred); err != nil {
		log.Warnf("Token file %s is corrupt, will re-authorize: %v", s.Path, err)
		return nil, nil
	}
	return &cred, nil
}

// Save atomically replaces the stored credential. The blob is written
// to a temp file in the same directory and renamed into place, so a
// concurrent reader never observes a truncated store.
func (s *TokenStore) Save(cred *Credential) error {
	b, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding credential")
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, "creating token directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating temp token file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return errors.Wrap(err, "restricting token file mode")
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing token file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "flushing token file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing token file")
	}

	if err := os.Rename(tmpName, s.Path); err != nil {
		return errors.Wrapf(err, "replacing token file %s", s.Path)
	}
	return nil
}
