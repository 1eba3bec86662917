// Package auth owns the OIDC Device Authorization Grant state machine
// and token lifecycle for the timed client: acquiring credentials via
// the device flow, tracking expiry with a conservative renewal buffer,
// and exchanging refresh tokens. It is safe to call from many
// concurrent request paths; a single in-flight refresh is shared by
// all waiters.
package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alexjbarnes/timed-cli/internal/store"
)

// renewalBuffer is the safety margin before actual expiry at which a
// token is proactively refreshed. One hour keeps short-lived commands
// from racing the expiry mid-request.
const renewalBuffer = time.Hour

// CredentialStore is the persistence boundary for exactly one
// credential record. *store.Store satisfies it.
type CredentialStore interface {
	Credentials() (*store.CredentialRecord, error)
	SetCredentials(store.CredentialRecord) error
	ClearCredentials() error
}

// State of the device-flow machine. Transitions:
// Unauthenticated -> DeviceCodeIssued -> Polling -> Authenticated
// -> (Refreshing -> Authenticated) -> Unauthenticated on refresh
// failure or logout.
type State int

const (
	StateUnauthenticated State = iota
	StateDeviceCodeIssued
	StatePolling
	StateAuthenticated
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateDeviceCodeIssued:
		return "device_code_issued"
	case StatePolling:
		return "polling"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	}

	return "unknown"
}

// Config assembles a Manager.
type Config struct {
	// DiscoveryURL is the OIDC issuer; the well-known configuration
	// path is appended to it.
	DiscoveryURL string

	// ClientID is the public client identifier for the device flow.
	ClientID string

	// Username is the configured profile name, used as the cache
	// subject when the token carries no usable sub claim.
	Username string

	Store  CredentialStore
	Logger *slog.Logger

	// HTTPClient is optional; a 30-second-timeout client is used when
	// nil.
	HTTPClient *http.Client
}

// Manager coordinates credential state for all request paths of one
// process.
type Manager struct {
	httpClient   *http.Client
	creds        CredentialStore
	logger       *slog.Logger
	discoveryURL string
	clientID     string
	username     string

	mu        sync.Mutex
	state     State
	endpoints *endpoints
	current   *store.CredentialRecord

	refreshGroup singleflight.Group

	buffer time.Duration
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

// NewManager creates a Manager. The store is consulted lazily, so
// constructing a manager never touches the network or disk.
func NewManager(cfg Config) *Manager {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpClientTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Manager{
		httpClient:   httpClient,
		creds:        cfg.Store,
		logger:       logger,
		discoveryURL: cfg.DiscoveryURL,
		clientID:     cfg.ClientID,
		username:     cfg.Username,
		state:        StateUnauthenticated,
		buffer:       renewalBuffer,
		now:          time.Now,
		sleep:        sleep,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != s {
		m.logger.Debug("auth state change",
			slog.String("from", m.state.String()),
			slog.String("to", s.String()),
		)
		m.state = s
	}
}

// loadCurrent returns the in-memory record, falling back to the store.
func (m *Manager) loadCurrent() (*store.CredentialRecord, error) {
	m.mu.Lock()
	if m.current != nil {
		rec := *m.current
		m.mu.Unlock()

		return &rec, nil
	}
	m.mu.Unlock()

	rec, err := m.creds.Credentials()
	if err != nil {
		return nil, err
	}

	if rec != nil {
		m.mu.Lock()
		m.current = rec
		m.state = StateAuthenticated
		m.mu.Unlock()
	}

	return rec, nil
}

func (m *Manager) storeRecord(rec store.CredentialRecord) error {
	if err := m.creds.SetCredentials(rec); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = &rec
	m.state = StateAuthenticated
	m.mu.Unlock()

	return nil
}

func (m *Manager) clearRecord() error {
	err := m.creds.ClearCredentials()

	m.mu.Lock()
	m.current = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	return err
}

// Subject returns the cache subject of the current credential, or the
// configured username when no credential is loaded.
func (m *Manager) Subject() string {
	rec, err := m.loadCurrent()
	if err != nil || rec == nil || rec.Subject == "" {
		return m.username
	}

	return rec.Subject
}

// Logout discards the stored credential.
func (m *Manager) Logout() error {
	m.logger.Info("logging out")

	return m.clearRecord()
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
