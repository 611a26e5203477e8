package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T, store Store, resave, saveUninit bool) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		Secrets:           []string{testSecret},
		Store:             store,
		Resave:            resave,
		SaveUninitialized: saveUninit,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func sessionCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func serve(h http.Handler, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestManager_IncrementAcrossRequests(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	m := newTestManager(t, store, false, false)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := FromContext(r.Context())
		n, _ := s.Get("increment")
		f, _ := n.(float64)
		s.Set("increment", f+1)
		_, _ = io.WriteString(w, "ok")
	}))

	rr := serve(h, nil)
	c := sessionCookie(rr, DefaultCookieName)
	if c == nil {
		t.Fatalf("expected session cookie on first modified response")
	}
	if !c.HttpOnly || c.Path != "/" {
		t.Fatalf("unexpected cookie attributes: %+v", c)
	}

	sid, err := DecodeCookieValue(c.Value, []string{testSecret})
	if err != nil {
		t.Fatalf("decode cookie: %v", err)
	}

	for i := 0; i < 2; i++ {
		serve(h, c)
	}

	v, err := store.Get(context.Background(), sid)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if v["increment"] != float64(3) {
		t.Fatalf("increment=%v want 3", v["increment"])
	}
}

func TestManager_SaveUninitialized(t *testing.T) {
	t.Parallel()

	noop := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name       string
		saveUninit bool
		wantCookie bool
		wantStored int
	}{
		{name: "save uninitialized", saveUninit: true, wantCookie: true, wantStored: 1},
		{name: "skip uninitialized", saveUninit: false, wantCookie: false, wantStored: 0},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := NewMemoryStore()
			m := newTestManager(t, store, true, tc.saveUninit)
			rr := serve(m.Middleware(noop), nil)

			if got := sessionCookie(rr, DefaultCookieName) != nil; got != tc.wantCookie {
				t.Fatalf("cookie set=%v want=%v", got, tc.wantCookie)
			}
			if got := store.Len(); got != tc.wantStored {
				t.Fatalf("stored=%d want=%d", got, tc.wantStored)
			}
		})
	}
}

type countingStore struct {
	*MemoryStore
	sets    int
	touches int
}

func (s *countingStore) Set(ctx context.Context, id string, v Values) error {
	s.sets++
	return s.MemoryStore.Set(ctx, id, v)
}

func (s *countingStore) Touch(ctx context.Context, id string) error {
	s.touches++
	return s.MemoryStore.Touch(ctx, id)
}

func TestManager_Resave(t *testing.T) {
	t.Parallel()

	for _, resave := range []bool{true, false} {
		store := &countingStore{MemoryStore: NewMemoryStore()}

		m := newTestManager(t, store, resave, true)
		h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "read only")
		}))

		first := serve(h, nil)
		c := sessionCookie(first, DefaultCookieName)
		if c == nil {
			t.Fatalf("resave=%v: expected cookie", resave)
		}
		store.sets, store.touches = 0, 0

		serve(h, c)

		if resave && (store.sets != 1 || store.touches != 0) {
			t.Fatalf("resave=true: sets=%d touches=%d", store.sets, store.touches)
		}
		if !resave && (store.sets != 0 || store.touches != 1) {
			t.Fatalf("resave=false: sets=%d touches=%d", store.sets, store.touches)
		}
	}
}

func TestManager_BadCookieStartsNewSession(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	m := newTestManager(t, store, false, true)

	var seen string
	h := m.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context()).ID()
	}))

	rr := serve(h, &http.Cookie{Name: DefaultCookieName, Value: "s:forged.signature"})
	if seen == "" || seen == "forged" {
		t.Fatalf("expected a fresh id, got %q", seen)
	}
	c := sessionCookie(rr, DefaultCookieName)
	if c == nil || !strings.HasPrefix(c.Value, "s%3A") {
		t.Fatalf("expected new signed cookie, got %+v", c)
	}
}

func TestManager_DestroyExpiresCookie(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	m := newTestManager(t, store, false, true)

	login := m.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Set("user", "ada")
	}))
	logout := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := FromContext(r.Context()).Destroy(r.Context()); err != nil {
			t.Errorf("Destroy: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))

	c := sessionCookie(serve(login, nil), DefaultCookieName)
	if c == nil {
		t.Fatalf("expected cookie")
	}

	rr := serve(logout, c)
	out := sessionCookie(rr, DefaultCookieName)
	if out == nil || out.MaxAge >= 0 {
		t.Fatalf("expected expiring cookie, got %+v", out)
	}
	if store.Len() != 0 {
		t.Fatalf("destroyed session still stored")
	}
}

type unavailableStore struct{ *MemoryStore }

func (unavailableStore) Get(context.Context, string) (Values, error) {
	return nil, errors.New("connection refused")
}

func TestManager_StoreFailureIs503(t *testing.T) {
	t.Parallel()

	good := newTestManager(t, NewMemoryStore(), false, true)
	c := sessionCookie(serve(good.Middleware(http.NotFoundHandler()), nil), DefaultCookieName)
	if c == nil {
		t.Fatalf("expected cookie")
	}

	m := newTestManager(t, unavailableStore{NewMemoryStore()}, false, true)
	rr := serve(m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Errorf("handler must not run when the store is down")
	})), c)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", rr.Code)
	}
}

func TestManager_PersistentCookieMaxAge(t *testing.T) {
	t.Parallel()

	m, err := NewManager(ManagerConfig{
		Secrets:           []string{testSecret},
		Store:             NewMemoryStore(),
		SaveUninitialized: true,
		Cookie:            CookieOptions{MaxAge: time.Hour, Secure: true},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	c := sessionCookie(serve(m.Middleware(http.NotFoundHandler()), nil), DefaultCookieName)
	if c == nil || c.MaxAge != 3600 || !c.Secure {
		t.Fatalf("unexpected cookie: %+v", c)
	}
}

func TestManager_ResolverSharesStore(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	m := newTestManager(t, store, false, false)
	h := m.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Set("from", "http")
	}))

	c := sessionCookie(serve(h, nil), DefaultCookieName)
	if c == nil {
		t.Fatalf("expected cookie")
	}

	s := m.Resolver().Resolve(context.Background(), c.Name+"="+c.Value)
	if !s.Authentic() || s.Values["from"] != "http" {
		t.Fatalf("socket side did not see the HTTP session: %+v", s.Values)
	}
}

func TestNewManager_Config(t *testing.T) {
	t.Parallel()

	if _, err := NewManager(ManagerConfig{Store: NewMemoryStore()}); !errors.Is(err, ErrConfig) {
		t.Fatalf("missing secret err=%v", err)
	}
	if _, err := NewManager(ManagerConfig{Secrets: []string{"k"}}); !errors.Is(err, ErrConfig) {
		t.Fatalf("missing store err=%v", err)
	}
}
