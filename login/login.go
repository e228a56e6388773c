// Package login drives an authentication attempt from authorization code
// to a single atomic commit of the resulting auth state.
//
// The orchestrator is a small machine: Idle → Authenticating → Committing
// → Committed, or → Failed. The only suspension point is the token
// exchange; the commit itself is one synchronous single-key write, so an
// interrupted attempt (navigation, reload) leaves the slot at its
// previous value with nothing partial to clean up.
package login

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/authstate"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/exchange"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/slot"
	"golang.org/x/oauth2"
)

// Phase is the orchestrator's position in the login machine.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseAuthenticating
	PhaseCommitting
	PhaseCommitted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseCommitting:
		return "committing"
	case PhaseCommitted:
		return "committed"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

var (
	ErrMissingExchanger = errors.New("missing exchanger")
	ErrMissingStore     = errors.New("missing slot store")
	// ErrAtomicPathDisabled is returned when the externally supplied
	// activation flag is off. No storage interaction happens.
	ErrAtomicPathDisabled = errors.New("atomic auth path disabled")
	// ErrUnknownAttempt is returned by Complete when the state parameter
	// does not match a pending attempt, or the attempt's TTL lapsed.
	ErrUnknownAttempt = errors.New("unknown or expired login attempt")
	// ErrNoAuthCodeURL is returned by Begin when the configured exchanger
	// cannot produce authorization URLs.
	ErrNoAuthCodeURL = errors.New("exchanger does not provide authorization URLs")
)

// attempt tracks one outstanding authorization round trip.
type attempt struct {
	verifier string
	started  time.Time
}

// Orchestrator runs login attempts and is the consumer-facing read
// surface for the committed auth state.
type Orchestrator struct {
	exchanger exchange.Exchanger
	slot      *slot.Store
	enabled   func() bool
	now       func() time.Time
	ttl       time.Duration
	logger    *slog.Logger

	pending *ttlcache.Cache[string, *attempt]

	mu      sync.Mutex
	phase   Phase
	lastErr error
}

type Option func(o *Orchestrator) error

// WithLogger configures the orchestrator with the given logger
// If left unconfigured, logging will be disabled
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		o.logger = logger
		return nil
	}
}

// WithClock overrides the time source used for persisted_at/expires_at,
// for tests.
// If left unconfigured, time.Now is used
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) error {
		o.now = now
		return nil
	}
}

// WithGate configures the activation flag for the atomic path. The flag
// is checked once per login attempt.
// If left unconfigured, the path is always enabled
func WithGate(enabled func() bool) Option {
	return func(o *Orchestrator) error {
		o.enabled = enabled
		return nil
	}
}

// WithAttemptTTL configures how long a begun attempt stays redeemable.
// If left unconfigured, a default of 5 minutes is used
func WithAttemptTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) error {
		o.ttl = ttl
		return nil
	}
}

func New(exchanger exchange.Exchanger, store *slot.Store, opts ...Option) (*Orchestrator, error) {
	if exchanger == nil {
		return nil, ErrMissingExchanger
	}
	if store == nil {
		return nil, ErrMissingStore
	}

	o := &Orchestrator{
		exchanger: exchanger,
		slot:      store,
		now:       time.Now,
		ttl:       5 * time.Minute,
		phase:     PhaseIdle,
	}

	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	if o.enabled == nil {
		o.enabled = func() bool { return true }
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	}

	o.pending = ttlcache.New(
		ttlcache.WithTTL[string, *attempt](o.ttl),
		ttlcache.WithDisableTouchOnHit[string, *attempt](),
	)
	// evict abandoned attempts; Get alone only hides expired items
	go o.pending.Start()

	return o, nil
}

// Begin creates a new login attempt and returns the provider URL the user
// agent should be sent to. A fresh state parameter and PKCE verifier are
// generated and remembered until Complete is called with the matching
// state or the attempt TTL lapses.
func (o *Orchestrator) Begin(opts ...oauth2.AuthCodeOption) (string, error) {
	if !o.enabled() {
		return "", ErrAtomicPathDisabled
	}

	urler, ok := o.exchanger.(interface {
		AuthCodeURL(string, ...oauth2.AuthCodeOption) string
	})
	if !ok {
		return "", ErrNoAuthCodeURL
	}

	state := uuid.New().String()
	verifier, challenge, err := newPKCE()
	if err != nil {
		return "", err
	}

	o.pending.Set(state, &attempt{verifier: verifier, started: o.now()}, ttlcache.DefaultTTL)
	o.logger.Debug("login attempt started", "state", state)

	opts = append(opts,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	return urler.AuthCodeURL(state, opts...), nil
}

// Complete finishes the attempt identified by state: it exchanges code
// with the backend, assembles the complete auth state in memory in a
// single construction step, and issues exactly one atomic commit.
//
// An exchange failure leaves the machine in Failed but restartable with a
// new Begin/Complete. A commit failure wraps storage.ErrQuotaExceeded or
// storage.ErrUnavailable and guarantees the slot still holds whatever it
// held before the attempt.
func (o *Orchestrator) Complete(ctx context.Context, state, code string) (*authstate.AuthState, error) {
	if !o.enabled() {
		return nil, ErrAtomicPathDisabled
	}

	item := o.pending.Get(state)
	if item == nil {
		return nil, ErrUnknownAttempt
	}
	o.pending.Delete(state)
	att := item.Value()

	o.setPhase(PhaseAuthenticating, nil)
	payload, err := o.exchanger.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", att.verifier))
	if err != nil {
		o.setPhase(PhaseFailed, err)
		return nil, fmt.Errorf("could not exchange code: %w", err)
	}

	// built whole before any storage interaction, never incrementally
	persisted := o.now()
	st := &authstate.AuthState{
		Version:      authstate.SchemaVersion,
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		User:         payload.User,
		Tenant:       payload.Tenant,
		Permissions:  payload.Permissions,
		ExpiresAt:    persisted.Add(payload.ExpiresIn),
		PersistedAt:  persisted,
	}

	o.setPhase(PhaseCommitting, nil)
	if err := o.slot.Commit(st); err != nil {
		o.setPhase(PhaseFailed, err)
		return nil, err
	}

	o.setPhase(PhaseCommitted, nil)
	o.logger.Info("login committed",
		"user", st.User.ID,
		"tenant", st.Tenant.ID,
		"expires-at", st.ExpiresAt,
		"took", o.now().Sub(att.started).String(),
	)
	return st, nil
}

// Phase returns the machine's current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Err returns the error that moved the machine to Failed, or nil.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Reset returns a failed machine to Idle so a new attempt can start.
func (o *Orchestrator) Reset() {
	o.setPhase(PhaseIdle, nil)
}

// Current returns the full committed auth state, or nil when no valid
// session exists or storage is unreadable.
func (o *Orchestrator) Current() *authstate.AuthState {
	st, err := o.slot.Load()
	if err != nil {
		o.logger.Warn("could not load auth state", "error", err)
		return nil
	}
	return st
}

// Token returns the current access token, or "" when no valid session
// exists. It is backed by the same single load as CurrentUser, so a token
// is never observable without its user.
func (o *Orchestrator) Token() string {
	if st := o.Current(); st != nil {
		return st.AccessToken
	}
	return ""
}

// CurrentUser returns the current user, or nil when no valid session
// exists.
func (o *Orchestrator) CurrentUser() *authstate.User {
	if st := o.Current(); st != nil {
		u := st.User
		return &u
	}
	return nil
}

// Logout clears the slot unconditionally and resets the machine.
func (o *Orchestrator) Logout() error {
	if err := o.slot.Clear(); err != nil {
		return err
	}
	o.setPhase(PhaseIdle, nil)
	o.logger.Debug("logged out")
	return nil
}

func (o *Orchestrator) setPhase(p Phase, err error) {
	o.mu.Lock()
	o.phase = p
	o.lastErr = err
	o.mu.Unlock()
}
