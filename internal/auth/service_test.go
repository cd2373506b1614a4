package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/cabinetmed/cabinet-portal/internal/upstream"
)

func newTestService(t *testing.T, backend http.Handler) *Service {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Hour)
	return NewService(upstream.New(srv.URL, nil), store, nil)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestLoginPersistsSession(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/login/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access":  "acc-token",
			"refresh": "ref-token",
			"user":    map[string]any{"id": 5, "email": "pat@cabinet.test", "role": "patient"},
		})
	}))

	sess, user, err := svc.Login(context.Background(), Credentials{Email: "pat@cabinet.test", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.Role != RolePatient {
		t.Errorf("unexpected role %s", user.Role)
	}

	stored, err := svc.Session(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if stored.AccessToken != "acc-token" || stored.RefreshToken != "ref-token" {
		t.Errorf("tokens not persisted: %+v", stored)
	}
}

func TestLoginRejectedSurfacesBackendMessage(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid email or password"}`))
	}))

	_, _, err := svc.Login(context.Background(), Credentials{Email: "x@y.z", Password: "bad"})
	if !upstream.IsAuth(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	var authErr *upstream.AuthError
	if !errors.As(err, &authErr) || authErr.Message != "Invalid email or password" {
		t.Errorf("expected verbatim message, got %v", err)
	}
}

func TestLoginValidatesLocally(t *testing.T) {
	var called int32
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&called, 1)
	}))

	if _, _, err := svc.Login(context.Background(), Credentials{}); !upstream.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if called != 0 {
		t.Error("validation failure must not reach the backend")
	}
}

func TestRegisterForcesPatientRole(t *testing.T) {
	var gotRole string
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotRole, _ = body["role"].(string)
		w.WriteHeader(http.StatusCreated)
	}))

	err := svc.Register(context.Background(), RegisterInput{
		Email:           "new@cabinet.test",
		FirstName:       "New",
		LastName:        "Patient",
		Password:        "pw123456",
		PasswordConfirm: "pw123456",
		PhoneNumber:     "0601020304",
		Role:            "admin", // must be discarded
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if gotRole != "patient" {
		t.Errorf("expected forced patient role, got %q", gotRole)
	}
}

func TestRegisterPasswordMismatch(t *testing.T) {
	var called int32
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&called, 1)
	}))

	err := svc.Register(context.Background(), RegisterInput{
		Email: "a@b.c", FirstName: "A", LastName: "B",
		Password: "one", PasswordConfirm: "two", PhoneNumber: "06",
	})
	if !upstream.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if called != 0 {
		t.Error("mismatch must be caught before the network")
	}
}

func TestRefreshRotatesPairAtomically(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["refresh"] != "ref-old" {
			t.Errorf("unexpected refresh token %q", body["refresh"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access": "acc-new"})
	}))

	ctx := context.Background()
	seed := &Session{ID: "s1", AccessToken: "acc-old", RefreshToken: "ref-old"}
	if err := svc.sessions.Save(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	token, err := svc.Refresh(ctx, "s1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if token != "acc-new" {
		t.Errorf("unexpected token %q", token)
	}

	stored, _ := svc.Session(ctx, "s1")
	if stored.AccessToken != "acc-new" || stored.RefreshToken != "ref-old" {
		t.Errorf("unexpected stored pair: %+v", stored)
	}
}

func TestRefreshFailureForcesLogout(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Token is invalid or expired"}`))
	}))

	ctx := context.Background()
	_ = svc.sessions.Save(ctx, &Session{ID: "s1", AccessToken: "a", RefreshToken: "dead"})

	if _, err := svc.Refresh(ctx, "s1"); !upstream.IsAuth(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if _, err := svc.Session(ctx, "s1"); err != ErrSessionNotFound {
		t.Errorf("expected session cleared, got %v", err)
	}
}

func TestRefreshConcurrentCallsCollapse(t *testing.T) {
	var backendCalls int32
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&backendCalls, 1)
		time.Sleep(20 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]string{"access": "acc-new"})
	}))

	ctx := context.Background()
	_ = svc.sessions.Save(ctx, &Session{ID: "s1", AccessToken: "a", RefreshToken: "r"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Refresh(ctx, "s1"); err != nil {
				t.Errorf("Refresh: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&backendCalls); got != 1 {
		t.Errorf("expected one backend refresh for concurrent callers, got %d", got)
	}
}

func TestResumeValidTokenFetchesProfile(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/profile/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(User{ID: 5, Email: "doc@cabinet.test", Role: RoleDoctor})
	}))

	ctx := context.Background()
	_ = svc.sessions.Save(ctx, &Session{
		ID:          "s1",
		AccessToken: signedToken(t, time.Now().Add(time.Hour)),
	})

	_, user, err := svc.Resume(ctx, "s1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if user.Role != RoleDoctor {
		t.Errorf("unexpected user %+v", user)
	}
}

func TestResumeExpiredTokenRefreshesOnce(t *testing.T) {
	var refreshCalls int32
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts/token/refresh/":
			atomic.AddInt32(&refreshCalls, 1)
			_ = json.NewEncoder(w).Encode(map[string]string{"access": signedTokenHelper(time.Now().Add(time.Hour))})
		case "/accounts/profile/":
			_ = json.NewEncoder(w).Encode(User{ID: 9, Role: RolePatient})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	ctx := context.Background()
	_ = svc.sessions.Save(ctx, &Session{
		ID:           "s1",
		AccessToken:  signedToken(t, time.Now().Add(-time.Minute)),
		RefreshToken: "ref",
	})

	if _, _, err := svc.Resume(ctx, "s1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if refreshCalls != 1 {
		t.Errorf("expected exactly one refresh, got %d", refreshCalls)
	}
}

func TestResumeExpiredWithoutRefreshTokenClearsSession(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no backend call expected, got %s", r.URL.Path)
	}))

	ctx := context.Background()
	_ = svc.sessions.Save(ctx, &Session{
		ID:          "s1",
		AccessToken: signedToken(t, time.Now().Add(-time.Minute)),
	})

	if _, _, err := svc.Resume(ctx, "s1"); !upstream.IsAuth(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if _, err := svc.Session(ctx, "s1"); err != ErrSessionNotFound {
		t.Errorf("expected session cleared, got %v", err)
	}
}

func TestTokenExpired(t *testing.T) {
	if tokenExpired(signedTokenHelper(time.Now().Add(time.Hour))) {
		t.Error("future token reported expired")
	}
	if !tokenExpired(signedTokenHelper(time.Now().Add(-time.Hour))) {
		t.Error("past token reported valid")
	}
	if !tokenExpired("not-a-jwt") {
		t.Error("garbage token must count as expired")
	}
	if !tokenExpired("") {
		t.Error("empty token must count as expired")
	}
}

func signedTokenHelper(exp time.Time) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, _ := token.SignedString([]byte("backend-secret"))
	return signed
}
