package authstate

import (
	"errors"
	"fmt"
	"time"
)

// SchemaVersion tags every persisted record. Decode rejects any other value
// outright; there is no migration path, a mismatched record is purged and the
// user re-authenticates.
const SchemaVersion = "marketedge.auth.v1"

// User is the resolved identity persisted alongside the credentials.
type User struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	Active         bool   `json:"is_active"`
	OrganizationID string `json:"organization_id"`
}

// Tenant is the organization context the user authenticated into.
type Tenant struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Industry         string `json:"industry"`
	SubscriptionPlan string `json:"subscription_plan"`
}

// AuthState is the single indivisible unit of persisted authentication
// context. Credentials, identity, tenant and permissions always travel
// together: a record that decodes as valid has every field populated.
type AuthState struct {
	Version      string    `json:"version"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	User         User      `json:"user"`
	Tenant       Tenant    `json:"tenant"`
	Permissions  []string  `json:"permissions"`
	ExpiresAt    time.Time `json:"expires_at"`
	PersistedAt  time.Time `json:"persisted_at"`
}

// ErrIncompleteState is returned by Encode when a required field is missing.
// An incomplete record is a caller bug and must never reach storage.
var ErrIncompleteState = errors.New("incomplete auth state")

// ErrNonMonotonicExpiry is returned by Encode when ExpiresAt is not strictly
// after PersistedAt.
var ErrNonMonotonicExpiry = errors.New("expires_at not after persisted_at")

// Validate checks that every field of s is populated and that ExpiresAt is
// strictly after PersistedAt.
func Validate(s *AuthState) error {
	if s == nil {
		return fmt.Errorf("%w: nil state", ErrIncompleteState)
	}
	if s.Version != SchemaVersion {
		return fmt.Errorf("%w: version %q", ErrIncompleteState, s.Version)
	}
	for _, f := range []struct{ name, value string }{
		{"access_token", s.AccessToken},
		{"refresh_token", s.RefreshToken},
		{"user.id", s.User.ID},
		{"user.email", s.User.Email},
		{"user.name", s.User.Name},
		{"user.role", s.User.Role},
		{"user.organization_id", s.User.OrganizationID},
		{"tenant.id", s.Tenant.ID},
		{"tenant.name", s.Tenant.Name},
		{"tenant.industry", s.Tenant.Industry},
		{"tenant.subscription_plan", s.Tenant.SubscriptionPlan},
	} {
		if f.value == "" {
			return fmt.Errorf("%w: missing %s", ErrIncompleteState, f.name)
		}
	}
	if s.Permissions == nil {
		return fmt.Errorf("%w: missing permissions", ErrIncompleteState)
	}
	if s.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: missing expires_at", ErrIncompleteState)
	}
	if s.PersistedAt.IsZero() {
		return fmt.Errorf("%w: missing persisted_at", ErrIncompleteState)
	}
	if !s.ExpiresAt.After(s.PersistedAt) {
		return ErrNonMonotonicExpiry
	}
	return nil
}

// Expired reports whether s has passed its expiry at now. It is evaluated
// lazily at read time only; there are no background timers.
func Expired(s *AuthState, now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
