package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMemoryStoreExpiresEntries(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if err := m.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if val, ok, _ := m.Get(ctx, "k"); !ok || string(val) != "v" {
		t.Fatalf("expected fresh entry to be found, got ok=%v val=%q", ok, val)
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestMemoryStoreDel(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	m.Set(ctx, "k", []byte("v"), time.Minute)
	m.Del(ctx, "k")
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("expected entry to be gone after Del")
	}
}

func TestCacheKeyIsStableAndDistinguishesCredentials(t *testing.T) {
	a := cacheKey("alice", "secret")
	b := cacheKey("alice", "secret")
	c := cacheKey("alice", "other")
	if a != b {
		t.Error("expected identical inputs to hash the same")
	}
	if a == c {
		t.Error("expected different passwords to hash differently")
	}
}

type stubValidator struct {
	calls int
	id    Identity
	err   error
}

func (s *stubValidator) Validate(ctx context.Context, username, password string) (Identity, error) {
	s.calls++
	return s.id, s.err
}

func TestAuthenticateCachesSuccess(t *testing.T) {
	v := &stubValidator{id: Identity{Username: "bob", Role: RoleUser}}
	d := NewDelegate(v, NewMemoryStore(), time.Minute, []byte("secret"))

	for i := 0; i < 3; i++ {
		id, err := d.Authenticate(context.Background(), "bob", "hunter2")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id.Username != "bob" || id.Role != RoleUser {
			t.Fatalf("unexpected identity: %+v", id)
		}
	}
	if v.calls != 1 {
		t.Errorf("expected the validator to be called once and then cached, got %d calls", v.calls)
	}
}

func TestAuthenticatePropagatesValidatorError(t *testing.T) {
	v := &stubValidator{err: errors.New("bad credentials")}
	d := NewDelegate(v, NewMemoryStore(), time.Minute, []byte("secret"))

	if _, err := d.Authenticate(context.Background(), "bob", "wrong"); err == nil {
		t.Fatal("expected an error to propagate from the validator")
	}
}

func TestRequireAdmin(t *testing.T) {
	if err := RequireAdmin(Identity{Role: RoleAdmin}); err != nil {
		t.Errorf("expected administrator role to pass, got %v", err)
	}
	if err := RequireAdmin(Identity{Role: RoleUser}); err == nil {
		t.Error("expected non-administrator role to be rejected")
	}
}

func TestIssueAndParseSessionRoundTrip(t *testing.T) {
	d := NewDelegate(nil, nil, time.Minute, []byte("top-secret"))
	id := Identity{Username: "carol", Role: RoleAdmin}

	token, err := d.IssueSession(id, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession returned error: %v", err)
	}

	got, err := d.ParseSession(token)
	if err != nil {
		t.Fatalf("ParseSession returned error: %v", err)
	}
	if got != id {
		t.Errorf("got identity %+v, want %+v", got, id)
	}
}

func TestParseSessionRejectsTamperedSecret(t *testing.T) {
	issuer := NewDelegate(nil, nil, time.Minute, []byte("secret-a"))
	verifier := NewDelegate(nil, nil, time.Minute, []byte("secret-b"))

	token, err := issuer.IssueSession(Identity{Username: "eve", Role: RoleUser}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.ParseSession(token); err == nil {
		t.Fatal("expected a session signed with a different secret to fail verification")
	}
}

func TestWordPressValidatorMapsAdministratorRole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, _, ok := r.BasicAuth()
		if !ok || username != "dana" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"valid":true,"roles":["subscriber","administrator"]}`))
	}))
	defer srv.Close()

	v := NewWordPressValidator(srv.URL)
	id, err := v.Validate(context.Background(), "dana", "pw")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if id.Role != RoleAdmin {
		t.Errorf("expected administrator role, got %q", id.Role)
	}
}

func TestWordPressValidatorRejectsInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	v := NewWordPressValidator(srv.URL)
	if _, err := v.Validate(context.Background(), "dana", "wrong"); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
