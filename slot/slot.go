// Package slot implements the atomic single-slot store for the auth state.
//
// The whole record is serialized to one blob and written with one backend
// Set call, so a concurrent reader observes either the previous complete
// record (or none) or the new complete record, never a mixture. No
// multi-key or multi-step write sequence is ever used for this slot.
package slot

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zebra-devops/MarketEdge-Platform-sub014/authstate"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/storage"
)

// DefaultKey is the well-known slot key. No other key is used by this
// subsystem.
const DefaultKey = "marketedge.auth"

// Store owns the auth slot: it is the only component that reads or
// mutates the underlying key.
type Store struct {
	backend storage.Backend
	key     string
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(s *Store)

// WithKey overrides the slot key.
// If left unconfigured, DefaultKey is used
func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// WithClock overrides the time source used for expiry checks, for tests.
// If left unconfigured, time.Now is used
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger configures the store with the given logger
// If left unconfigured, logging will be disabled
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func New(backend storage.Backend, opts ...Option) *Store {
	s := &Store{backend: backend, key: DefaultKey, now: time.Now}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	}

	return s
}

// Commit encodes state and writes it with exactly one Set call. If the
// backend rejects the write, the slot's prior content is left untouched
// and the returned error wraps storage.ErrQuotaExceeded or
// storage.ErrUnavailable. No retry is attempted; retry policy belongs to
// the caller.
func (s *Store) Commit(state *authstate.AuthState) error {
	buf, err := authstate.Encode(state)
	if err != nil {
		return err
	}
	if err := s.backend.Set(s.key, buf); err != nil {
		s.logger.Warn("could not commit auth state", "key", s.key, "error", err)
		return fmt.Errorf("could not commit auth state: %w", err)
	}
	return nil
}

// Load reads the slot. It returns nil with no error when the slot is
// absent, or when its content is malformed, version-mismatched or expired;
// in the latter cases the slot is purged synchronously so stale data never
// lingers. A backend read failure is returned as an error wrapping
// storage.ErrUnavailable.
func (s *Store) Load() (*authstate.AuthState, error) {
	raw, ok, err := s.backend.Get(s.key)
	if err != nil {
		return nil, fmt.Errorf("could not read auth slot: %w", err)
	}
	if !ok {
		return nil, nil
	}

	state, err := authstate.Decode(raw)
	if err != nil {
		reason := "invalid"
		invalid := new(authstate.InvalidError)
		if errors.As(err, &invalid) {
			reason = invalid.Reason.String()
		}
		s.purge(reason)
		return nil, nil
	}

	if authstate.Expired(state, s.now()) {
		s.purge("expired")
		return nil, nil
	}

	return state, nil
}

// Clear removes the slot unconditionally. Used for logout.
func (s *Store) Clear() error {
	if err := s.backend.Remove(s.key); err != nil {
		return fmt.Errorf("could not clear auth slot: %w", err)
	}
	return nil
}

// purge is best-effort self-healing: if the remove fails the stale record
// stays until the next Load retries it.
func (s *Store) purge(reason string) {
	if err := s.backend.Remove(s.key); err != nil {
		s.logger.Warn("could not purge auth slot", "key", s.key, "reason", reason, "error", err)
		return
	}
	s.logger.Debug("purged auth slot", "key", s.key, "reason", reason)
}
