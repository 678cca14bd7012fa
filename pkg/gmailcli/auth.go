package gmailcli

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
)

// Google OAuth endpoints, used when a prompted or partial client config
// doesn't carry its own.
const (
	DefaultAuthEndpoint  = "https://accounts.google.com/o/oauth2/auth"
	DefaultTokenEndpoint = "https://oauth2.googleapis.com/token"
	DefaultRedirectURL   = "http://localhost:8080"
)

// RequiredScopes is the fixed scope set the connector needs. Requesting
// fewer is rejected as a configuration error before any network call.
var RequiredScopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
	gmail.GmailComposeScope,
	gmail.GmailModifyScope,
}

// ClientConfig is the OAuth client identity used for one authorization
// flow. Immutable after load.
type ClientConfig struct {
	ClientID      string
	ClientSecret  string
	AuthEndpoint  string
	TokenEndpoint string
	RedirectURL   string
}

// Validate reports whether the config is complete enough to start an
// authorization flow.
func (c ClientConfig) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return configErrorf("client_id and client_secret are required; download credentials.json from https://console.cloud.google.com/apis/credentials")
	}
	if c.AuthEndpoint == "" || c.TokenEndpoint == "" {
		return configErrorf("auth and token endpoints are required")
	}
	return nil
}

// ParseClientConfig reads a Google credentials.json, accepting both the
// "installed" (desktop) and "web" client shapes.
func ParseClientConfig(r io.Reader) (ClientConfig, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return ClientConfig{}, errors.Wrap(err, "reading credentials")
	}

	type oauthClient struct {
		ClientID     string   `json:"client_id"`
		ClientSecret string   `json:"client_secret"`
		AuthURI      string   `json:"auth_uri"`
		TokenURI     string   `json:"token_uri"`
		RedirectURIs []string `json:"redirect_uris"`
	}
	var creds struct {
		Installed *oauthClient `json:"installed"`
		Web       *oauthClient `json:"web"`
	}
	if err := json.Unmarshal(b, &creds); err != nil {
		return ClientConfig{}, configErrorf("credentials file is not valid JSON: %v", err)
	}

	oc := creds.Installed
	if oc == nil {
		oc = creds.Web
	}
	if oc == nil {
		return ClientConfig{}, configErrorf("credentials file has neither an \"installed\" nor a \"web\" client")
	}

	cfg := ClientConfig{
		ClientID:      oc.ClientID,
		ClientSecret:  oc.ClientSecret,
		AuthEndpoint:  oc.AuthURI,
		TokenEndpoint: oc.TokenURI,
		RedirectURL:   DefaultRedirectURL,
	}
	if cfg.AuthEndpoint == "" {
		cfg.AuthEndpoint = DefaultAuthEndpoint
	}
	if cfg.TokenEndpoint == "" {
		cfg.TokenEndpoint = DefaultTokenEndpoint
	}
	if len(oc.RedirectURIs) > 0 {
		cfg.RedirectURL = oc.RedirectURIs[0]
	}
	return cfg, nil
}

// PromptClientConfig interactively asks for a client ID and secret when
// no credentials file is available, filling in Google's endpoints.
func PromptClientConfig(in io.Reader, out io.Writer) (ClientConfig, error) {
	fmt.Fprintf(out, "\nEnter your Google OAuth client_id and client_secret (Google Cloud Console > Credentials > OAuth 2.0 Client IDs):\n")

	sc := bufio.NewScanner(in)
	read := func(prompt string) (string, error) {
		fmt.Fprintf(out, "%s: ", prompt)
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return strings.TrimSpace(sc.Text()), nil
	}

	id, err := read("client_id")
	if err != nil {
		return ClientConfig{}, configErrorf("reading client_id: %v", err)
	}
	secret, err := read("client_secret")
	if err != nil {
		return ClientConfig{}, configErrorf("reading client_secret: %v", err)
	}

	return ClientConfig{
		ClientID:      id,
		ClientSecret:  secret,
		AuthEndpoint:  DefaultAuthEndpoint,
		TokenEndpoint: DefaultTokenEndpoint,
		RedirectURL:   DefaultRedirectURL,
	}, nil
}

// Consent obtains user consent out of process and returns the resulting
// authorization code. Implementations block until consent completes,
// the context is done, or their own timeout elapses.
type Consent interface {
	Authorize(ctx context.Context, authURL, state string) (string, error)
}

// ConsentFunc adapts a function to the Consent interface.
type ConsentFunc func(ctx context.Context, authURL, state string) (string, error)

// Authorize implements Consent.
func (f ConsentFunc) Authorize(ctx context.Context, authURL, state string) (string, error) {
	return f(ctx, authURL, state)
}

// LocalServerConsent runs a one-shot HTTP listener on localhost and
// waits for the OAuth redirect to deliver the authorization code.
type LocalServerConsent struct {
	Addr string    // listen address, e.g. "localhost:8080"
	Out  io.Writer // where to print the authorization URL; default stdout
}

type consentResult struct {
	code string
	err  error
}

// Authorize implements Consent. It blocks until the browser redirect
// arrives or ctx is done.
func (l *LocalServerConsent) Authorize(ctx context.Context, authURL, state string) (string, error) {
	addr := l.Addr
	if addr == "" {
		addr = "localhost:8080"
	}
	out := l.Out
	if out == nil {
		out = os.Stdout
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", errors.Wrapf(err, "listening on %s for OAuth callback", addr)
	}

	ch := make(chan consentResult, 1)
	srv := &http.Server{Handler: consentCallback(state, ch)}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			deliverConsent(ch, consentResult{err: err})
		}
	}()
	defer srv.Close()

	fmt.Fprintf(out, "\nGo to the following link in your browser:\n\n%s\n\n", authURL)

	select {
	case res := <-ch:
		return res.code, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// consentCallback handles the OAuth redirect. Only the first outcome is
// delivered; a refreshed or duplicate redirect still gets a response but
// must never block its handler goroutine.
func consentCallback(state string, ch chan consentResult) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errMsg := q.Get("error"); errMsg != "" {
			http.Error(w, "Authorization denied.", http.StatusForbidden)
			deliverConsent(ch, consentResult{err: errors.Errorf("authorization denied: %s", errMsg)})
			return
		}
		if state != "" && q.Get("state") != state {
			http.Error(w, "State mismatch.", http.StatusBadRequest)
			deliverConsent(ch, consentResult{err: errors.New("OAuth state mismatch")})
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Missing code.", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authorization complete. You can close this window.")
		deliverConsent(ch, consentResult{code: code})
	})
}

// deliverConsent hands a result to the waiter without blocking; results
// past the first are dropped.
func deliverConsent(ch chan<- consentResult, res consentResult) {
	select {
	case ch <- res:
	default:
	}
}

// PromptConsent prints the authorization URL and reads a pasted code.
type PromptConsent struct {
	In  io.Reader
	Out io.Writer
}

// Authorize implements Consent.
func (p *PromptConsent) Authorize(ctx context.Context, authURL, state string) (string, error) {
	in := p.In
	if in == nil {
		in = os.Stdin
	}
	out := p.Out
	if out == nil {
		out = os.Stdout
	}

	fmt.Fprintf(out, "\nGo to the following link in your browser:\n\n%s\n\n", authURL)
	fmt.Fprintf(out, "After authorizing, paste the code here: ")

	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", errors.Wrap(err, "reading auth code")
		}
		return "", errors.New("no auth code entered")
	}
	return strings.TrimSpace(sc.Text()), nil
}

// Authorizer drives the credential lifecycle: reuse a stored credential
// while it is fresh, refresh it silently when expired, and fall back to
// the interactive consent flow when neither works.
type Authorizer struct {
	Config  ClientConfig
	Consent Consent
	// Scopes defaults to RequiredScopes. A narrower set is rejected.
	Scopes []string
	// Timeout bounds the interactive consent wait. Zero means no bound
	// beyond the caller's context.
	Timeout time.Duration
}

func (a *Authorizer) scopes() []string {
	if a.Scopes == nil {
		return RequiredScopes
	}
	return a.Scopes
}

func (a *Authorizer) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.Config.ClientID,
		ClientSecret: a.Config.ClientSecret,
		RedirectURL:  a.Config.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  a.Config.AuthEndpoint,
			TokenURL: a.Config.TokenEndpoint,
		},
		Scopes: a.scopes(),
	}
}

// Obtain returns a usable credential, persisting any new or refreshed
// one to the store. The stored credential is returned unchanged, with
// zero network calls, while its access token is still fresh.
func (a *Authorizer) Obtain(ctx context.Context, store *TokenStore) (*Credential, error) {
	if err := a.Config.Validate(); err != nil {
		return nil, err
	}
	if err := a.checkScopes(); err != nil {
		return nil, err
	}

	cred, err := store.Load()
	if err != nil {
		return nil, err
	}
	if cred != nil && cred.Usable() {
		// The fast path needs an actual access token; a credential that
		// is merely refreshable goes through the refresh below even when
		// its expiry is unset.
		if cred.AccessToken != "" && !cred.Expired() {
			return cred, nil
		}
		refreshed, err := a.refresh(ctx, cred)
		if err == nil {
			if err := store.Save(refreshed); err != nil {
				return nil, err
			}
			return refreshed, nil
		}
		// Recovered locally: fall through to the interactive flow.
		log.Warnf("Silent refresh failed, re-authorizing: %v", refreshError(err))
	}

	return a.authorize(ctx, store)
}

func (a *Authorizer) checkScopes() error {
	have := make(map[string]bool, len(a.scopes()))
	for _, s := range a.scopes() {
		have[s] = true
	}
	for _, s := range RequiredScopes {
		if !have[s] {
			return configErrorf("required scope %s not requested", s)
		}
	}
	return nil
}

// refresh trades the refresh token for a new access token at the
// credential's own token endpoint.
func (a *Authorizer) refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	cfg := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cred.TokenEndpoint},
	}
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return nil, err
	}
	return credentialFromToken(tok, cred.TokenEndpoint, cred.ClientID, cred.ClientSecret, cred.RefreshToken), nil
}

func (a *Authorizer) authorize(ctx context.Context, store *TokenStore) (*Credential, error) {
	if a.Consent == nil {
		return nil, configErrorf("no consent mechanism configured")
	}

	cctx := ctx
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	state := generateOauthState()
	authURL := a.oauthConfig().AuthCodeURL(state, oauth2.AccessTypeOffline)

	code, err := a.Consent.Authorize(cctx, authURL, state)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, authError(err, "authorization timed out after %v", a.Timeout)
		}
		return nil, authError(err, "interactive authorization failed")
	}

	tok, err := a.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return nil, authError(err, "exchanging authorization code")
	}

	cred := credentialFromToken(tok, a.Config.TokenEndpoint, a.Config.ClientID, a.Config.ClientSecret, "")
	if err := store.Save(cred); err != nil {
		return nil, err
	}
	log.Infof("New credential saved to %s", store.Path)
	return cred, nil
}

func credentialFromToken(tok *oauth2.Token, tokenEndpoint, clientID, clientSecret, fallbackRefresh string) *Credential {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	return &Credential{
		AccessToken:   tok.AccessToken,
		RefreshToken:  refresh,
		TokenEndpoint: tokenEndpoint,
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		Expiry:        tok.Expiry,
	}
}

func generateOauthState() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// We can't really afford errors in secure random number generation.
		panic(err)
	}
	return base64.URLEncoding.EncodeToString(b)
}
