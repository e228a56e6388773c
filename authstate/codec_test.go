package authstate_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/authstate"
)

func validState(now time.Time) *authstate.AuthState {
	return &authstate.AuthState{
		Version:      authstate.SchemaVersion,
		AccessToken:  "access-token-1",
		RefreshToken: "refresh-token-1",
		User: authstate.User{
			ID:             "user-1",
			Email:          "alice@acme.example",
			Name:           "Alice Example",
			Role:           "admin",
			Active:         true,
			OrganizationID: "org-1",
		},
		Tenant: authstate.Tenant{
			ID:               "org-1",
			Name:             "Acme Cinemas",
			Industry:         "cinema",
			SubscriptionPlan: "professional",
		},
		Permissions: []string{"manage_users", "view_reports"},
		ExpiresAt:   now.Add(time.Hour),
		PersistedAt: now,
	}
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
}

// rawWith marshals a valid record, applies mutate to its JSON object
// representation, and returns the result.
func rawWith(t *testing.T, mutate func(map[string]any)) []byte {
	t.Helper()

	buf, err := authstate.Encode(validState(fixedNow()))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf, &doc))
	mutate(doc)

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	return out
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	st := validState(fixedNow())

	buf, err := authstate.Encode(st)
	require.NoError(t, err)

	got, err := authstate.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, st, got)
}

func TestEncodeRejectsIncomplete(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *authstate.AuthState)
	}{
		{"no access token", func(s *authstate.AuthState) { s.AccessToken = "" }},
		{"no refresh token", func(s *authstate.AuthState) { s.RefreshToken = "" }},
		{"no user id", func(s *authstate.AuthState) { s.User.ID = "" }},
		{"no user email", func(s *authstate.AuthState) { s.User.Email = "" }},
		{"no user name", func(s *authstate.AuthState) { s.User.Name = "" }},
		{"no user role", func(s *authstate.AuthState) { s.User.Role = "" }},
		{"no organization", func(s *authstate.AuthState) { s.User.OrganizationID = "" }},
		{"no tenant id", func(s *authstate.AuthState) { s.Tenant.ID = "" }},
		{"no tenant name", func(s *authstate.AuthState) { s.Tenant.Name = "" }},
		{"no tenant industry", func(s *authstate.AuthState) { s.Tenant.Industry = "" }},
		{"no tenant plan", func(s *authstate.AuthState) { s.Tenant.SubscriptionPlan = "" }},
		{"nil permissions", func(s *authstate.AuthState) { s.Permissions = nil }},
		{"zero expires_at", func(s *authstate.AuthState) { s.ExpiresAt = time.Time{} }},
		{"zero persisted_at", func(s *authstate.AuthState) { s.PersistedAt = time.Time{} }},
		{"wrong version", func(s *authstate.AuthState) { s.Version = "marketedge.auth.v0" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := validState(fixedNow())
			tt.mutate(st)

			buf, err := authstate.Encode(st)
			require.ErrorIs(t, err, authstate.ErrIncompleteState)
			require.Nil(t, buf)
		})
	}
}

func TestEncodeRejectsNonMonotonicExpiry(t *testing.T) {
	st := validState(fixedNow())
	st.ExpiresAt = st.PersistedAt

	_, err := authstate.Encode(st)
	require.ErrorIs(t, err, authstate.ErrNonMonotonicExpiry)

	st.ExpiresAt = st.PersistedAt.Add(-time.Second)
	_, err = authstate.Encode(st)
	require.ErrorIs(t, err, authstate.ErrNonMonotonicExpiry)
}

func TestDecodeJudgments(t *testing.T) {
	tests := []struct {
		name   string
		raw    []byte
		reason authstate.Reason
	}{
		{"garbage", []byte("{not json"), authstate.ReasonParse},
		{"empty", nil, authstate.ReasonParse},
		{"json array", []byte("[1,2,3]"), authstate.ReasonVersion},
		{"json scalar", []byte("true"), authstate.ReasonVersion},
		{"missing version", rawWith(t, func(doc map[string]any) { delete(doc, "version") }), authstate.ReasonVersion},
		{"stale version", rawWith(t, func(doc map[string]any) { doc["version"] = "marketedge.auth.v0" }), authstate.ReasonVersion},
		{"version wrong type", rawWith(t, func(doc map[string]any) { doc["version"] = 3 }), authstate.ReasonVersion},
		{"missing user", rawWith(t, func(doc map[string]any) { delete(doc, "user") }), authstate.ReasonSchema},
		{"missing tenant", rawWith(t, func(doc map[string]any) { delete(doc, "tenant") }), authstate.ReasonSchema},
		{"missing token", rawWith(t, func(doc map[string]any) { delete(doc, "access_token") }), authstate.ReasonSchema},
		{"permissions wrong shape", rawWith(t, func(doc map[string]any) { doc["permissions"] = "all" }), authstate.ReasonSchema},
		{"expiry wrong shape", rawWith(t, func(doc map[string]any) { doc["expires_at"] = 12345 }), authstate.ReasonSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := authstate.Decode(tt.raw)
			require.Nil(t, st)

			invalid := new(authstate.InvalidError)
			require.ErrorAs(t, err, &invalid)
			require.Equal(t, tt.reason, invalid.Reason)
		})
	}
}

func TestExpired(t *testing.T) {
	st := validState(fixedNow())

	require.False(t, authstate.Expired(st, st.ExpiresAt.Add(-time.Second)))
	require.True(t, authstate.Expired(st, st.ExpiresAt))
	require.True(t, authstate.Expired(st, st.ExpiresAt.Add(time.Second)))
}
