package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alexjbarnes/timed-cli/internal/apierrors"
	"github.com/alexjbarnes/timed-cli/internal/store"
)

const (
	// httpClientTimeout is the timeout for the default HTTP client
	// used against the identity provider.
	httpClientTimeout = 30 * time.Second

	// maxResponseBytes caps provider response reads.
	maxResponseBytes = 1024 * 1024

	// deviceGrantType is the RFC 8628 device code grant.
	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// deviceFlowScope is requested on every device authorization.
	deviceFlowScope = "openid profile email"

	// defaultPollInterval applies when the provider sends none.
	defaultPollInterval = 5 * time.Second

	// slowDownStep is added to the interval on a slow_down response.
	slowDownStep = 5 * time.Second

	// pollRetryBudget bounds transient network retries while polling.
	pollRetryBudget = 5
)

type endpoints struct {
	DeviceAuthorization string `json:"device_authorization_endpoint"`
	Token               string `json:"token_endpoint"`
}

// DeviceAuth is the transient state of one in-progress device flow. It
// exists for the duration of a single authentication attempt and is
// never persisted.
type DeviceAuth struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	Interval                time.Duration
	ExpiresIn               time.Duration
	IssuedAt                time.Time
}

type deviceAuthResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// oauthError is the provider's error body on the token endpoint.
type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// discover fetches and caches the provider's endpoint configuration.
func (m *Manager) discover(ctx context.Context) (*endpoints, error) {
	m.mu.Lock()
	if m.endpoints != nil {
		ep := *m.endpoints
		m.mu.Unlock()

		return &ep, nil
	}
	m.mu.Unlock()

	wellKnown := strings.TrimRight(m.discoveryURL, "/") + "/.well-known/openid-configuration"
	m.logger.Debug("fetching OIDC configuration", slog.String("url", wellKnown))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, fmt.Errorf("creating discovery request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &apierrors.TransportError{Err: fmt.Errorf("fetching OIDC configuration: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading OIDC configuration: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OIDC discovery returned status %d", resp.StatusCode)
	}

	var ep endpoints
	if err := json.Unmarshal(body, &ep); err != nil {
		return nil, &apierrors.DecodeError{Err: fmt.Errorf("parsing OIDC configuration: %w", err)}
	}

	if ep.DeviceAuthorization == "" || ep.Token == "" {
		return nil, fmt.Errorf("OIDC configuration lacks device authorization or token endpoint")
	}

	m.mu.Lock()
	m.endpoints = &ep
	m.mu.Unlock()

	return &ep, nil
}

// postForm sends a form-encoded POST and returns the raw body with the
// status code. Transport failures come back as TransportError.
func (m *Manager) postForm(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, nil, &apierrors.TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}

	return resp.StatusCode, body, nil
}

// BeginDeviceFlow requests a device and user code from the provider.
// The returned session carries everything the caller needs to display
// the verification prompt and poll for completion.
func (m *Manager) BeginDeviceFlow(ctx context.Context) (*DeviceAuth, error) {
	ep, err := m.discover(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"client_id": {m.clientID},
		"scope":     {deviceFlowScope},
	}

	status, body, err := m.postForm(ctx, ep.DeviceAuthorization, form)
	if err != nil {
		return nil, fmt.Errorf("starting device flow: %w", err)
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf("device authorization returned status %d", status)
	}

	var dar deviceAuthResponse
	if err := json.Unmarshal(body, &dar); err != nil {
		return nil, &apierrors.DecodeError{Err: fmt.Errorf("parsing device authorization response: %w", err)}
	}

	interval := time.Duration(dar.Interval) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}

	da := &DeviceAuth{
		DeviceCode:              dar.DeviceCode,
		UserCode:                dar.UserCode,
		VerificationURI:         dar.VerificationURI,
		VerificationURIComplete: dar.VerificationURIComplete,
		Interval:                interval,
		ExpiresIn:               time.Duration(dar.ExpiresIn) * time.Second,
		IssuedAt:                m.now(),
	}

	m.setState(StateDeviceCodeIssued)
	m.logger.Info("device flow started",
		slog.String("verification_uri", da.VerificationURI),
		slog.Duration("expires_in", da.ExpiresIn),
	)

	return da, nil
}

// PollForToken exchanges the device code for a token at the provider's
// interval until the user approves, the code expires, or ctx is
// cancelled. Cancellation reverts the machine to Unauthenticated, never
// leaving the session ambiguous.
func (m *Manager) PollForToken(ctx context.Context, da *DeviceAuth) error {
	ep, err := m.discover(ctx)
	if err != nil {
		return err
	}

	m.setState(StatePolling)

	form := url.Values{
		"grant_type":  {deviceGrantType},
		"device_code": {da.DeviceCode},
		"client_id":   {m.clientID},
	}

	interval := da.Interval
	deadline := da.IssuedAt.Add(da.ExpiresIn)
	retries := pollRetryBudget
	backoff := time.Second

	for {
		if !m.now().Before(deadline) {
			m.setState(StateUnauthenticated)
			return fmt.Errorf("device code expired: %w", apierrors.ErrAuthExpired)
		}

		if err := m.sleep(ctx, interval); err != nil {
			m.setState(StateUnauthenticated)
			return err
		}

		status, body, err := m.postForm(ctx, ep.Token, form)
		if err != nil {
			if apierrors.IsTransport(err) && retries > 0 {
				retries--
				m.logger.Warn("transient error while polling, retrying",
					slog.String("error", err.Error()),
					slog.Int("retries_left", retries),
				)

				if serr := m.sleep(ctx, backoff); serr != nil {
					m.setState(StateUnauthenticated)
					return serr
				}
				backoff *= 2

				continue
			}

			m.setState(StateUnauthenticated)

			return fmt.Errorf("polling for token: %w", err)
		}

		if status == http.StatusOK {
			var tr tokenResponse
			if err := json.Unmarshal(body, &tr); err != nil {
				m.setState(StateUnauthenticated)
				return &apierrors.DecodeError{Err: fmt.Errorf("parsing token response: %w", err)}
			}

			if err := m.persistToken(&tr); err != nil {
				m.setState(StateUnauthenticated)
				return fmt.Errorf("storing credentials: %w", err)
			}

			m.logger.Info("authentication successful")

			return nil
		}

		var oerr oauthError
		if err := json.Unmarshal(body, &oerr); err != nil || oerr.Code == "" {
			// Unparseable error body; treat like authorization_pending
			// and keep polling until the code expires.
			continue
		}

		switch oerr.Code {
		case "authorization_pending":
			interval = da.Interval
		case "slow_down":
			interval += slowDownStep
			m.logger.Debug("provider asked to slow down",
				slog.Duration("interval", interval))
		case "expired_token":
			m.setState(StateUnauthenticated)
			return fmt.Errorf("device code expired: %w", apierrors.ErrAuthExpired)
		case "access_denied":
			m.setState(StateUnauthenticated)
			return fmt.Errorf("user rejected the request: %w", apierrors.ErrAuthDenied)
		default:
			m.setState(StateUnauthenticated)
			return fmt.Errorf("token endpoint returned %q: %w", oerr.Code, apierrors.ErrAuthDenied)
		}
	}
}

// Login runs a full device flow: begin, hand the session to display
// for user-facing presentation, then poll to completion.
func (m *Manager) Login(ctx context.Context, display func(DeviceAuth)) error {
	da, err := m.BeginDeviceFlow(ctx)
	if err != nil {
		return err
	}

	if display != nil {
		display(*da)
	}

	return m.PollForToken(ctx, da)
}

// ForceRenew unconditionally discards the current credential and runs
// the device flow again.
func (m *Manager) ForceRenew(ctx context.Context, display func(DeviceAuth)) error {
	m.logger.Info("forcing token renewal")

	if err := m.clearRecord(); err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}

	return m.Login(ctx, display)
}

// Token is the primary accessor for outgoing requests. It returns the
// stored access token while its expiry minus the renewal buffer is in
// the future, refreshing it otherwise. Concurrent callers share a
// single refresh exchange.
func (m *Manager) Token(ctx context.Context) (string, error) {
	rec, err := m.loadCurrent()
	if err != nil {
		return "", fmt.Errorf("loading credentials: %w", err)
	}

	if rec == nil {
		return "", fmt.Errorf("%w: %w", apierrors.ErrAuthRequired, apierrors.ErrNoCredentials)
	}

	if m.now().Add(m.buffer).Before(rec.ExpiresAt) {
		return rec.AccessToken, nil
	}

	return m.Refresh(ctx)
}

// Refresh exchanges the refresh token for a new credential record,
// regardless of the current token's remaining lifetime. The resource
// client calls this once after a 401. Only one exchange is in flight
// at a time; every waiter receives its result.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	token, err, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return m.refreshExchange(ctx)
	})
	if err != nil {
		return "", err
	}

	return token.(string), nil
}

func (m *Manager) refreshExchange(ctx context.Context) (string, error) {
	rec, err := m.loadCurrent()
	if err != nil {
		return "", fmt.Errorf("loading credentials: %w", err)
	}

	if rec == nil || rec.RefreshToken == "" {
		// Without a refresh token expiry cannot be extended.
		return "", apierrors.ErrAuthRequired
	}

	ep, err := m.discover(ctx)
	if err != nil {
		return "", err
	}

	m.setState(StateRefreshing)
	m.logger.Debug("refreshing access token")

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {m.clientID},
		"refresh_token": {rec.RefreshToken},
	}

	status, body, err := m.postForm(ctx, ep.Token, form)
	if err != nil {
		// The credential may still be good; a transport failure must
		// not wipe it.
		m.setState(StateAuthenticated)
		return "", fmt.Errorf("refreshing token: %w", err)
	}

	if status != http.StatusOK {
		m.logger.Warn("token refresh rejected", slog.Int("status", status))

		if err := m.clearRecord(); err != nil {
			m.logger.Warn("failed to clear credentials", slog.String("error", err.Error()))
		}

		return "", apierrors.ErrAuthRequired
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", &apierrors.DecodeError{Err: fmt.Errorf("parsing refresh response: %w", err)}
	}

	// Providers may omit the refresh token on renewal; keep the old one.
	if tr.RefreshToken == "" {
		tr.RefreshToken = rec.RefreshToken
	}

	if err := m.persistToken(&tr); err != nil {
		m.setState(StateUnauthenticated)
		return "", fmt.Errorf("storing refreshed credentials: %w", err)
	}

	m.logger.Debug("access token refreshed")

	return tr.AccessToken, nil
}

// persistToken converts a provider token response into a credential
// record and writes it through the store. Expiry and subject come from
// the token's claims when it parses as a JWT, with expires_in and the
// configured username as fallbacks.
func (m *Manager) persistToken(tr *tokenResponse) error {
	expiresAt := m.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	subject := m.username

	if exp, sub, err := unverifiedClaims(tr.AccessToken); err == nil {
		if !exp.IsZero() {
			expiresAt = exp
		}

		if sub != "" {
			subject = sub
		}
	}

	return m.storeRecord(store.CredentialRecord{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    expiresAt,
		Scope:        tr.Scope,
		Subject:      subject,
	})
}

// unverifiedClaims extracts exp and sub from a JWT access token without
// signature verification. The token is only inspected for scheduling,
// never trusted for authorization decisions.
func unverifiedClaims(token string) (time.Time, string, error) {
	claims := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, "", err
	}

	var expiresAt time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}

	sub, _ := claims.GetSubject()

	return expiresAt, sub, nil
}
