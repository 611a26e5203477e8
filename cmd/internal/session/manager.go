package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"sockpress/cmd/identity/ids"
)

// ManagerConfig configures the HTTP session middleware.
type ManagerConfig struct {
	Name    string
	Secrets []string
	Store   Store

	// Resave writes unmodified, already-stored sessions back at the end of every request.
	Resave bool
	// SaveUninitialized persists (and sets the cookie for) new sessions even
	// when the request did not touch them.
	SaveUninitialized bool

	Cookie CookieOptions

	Metrics *Metrics
	Log     *slog.Logger
}

// Manager is the HTTP half of the session bridge.
type Manager struct {
	name    string
	secrets []string
	store   Store

	resave            bool
	saveUninitialized bool
	cookie            CookieOptions

	metrics *Metrics
	log     *slog.Logger
}

// NewManager validates cfg. A secret and a store are required.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	m := &Manager{
		name:              cookieNameOrDefault(cfg.Name),
		secrets:           slices.Clone(normalizeSecrets(cfg.Secrets)),
		store:             cfg.Store,
		resave:            cfg.Resave,
		saveUninitialized: cfg.SaveUninitialized,
		cookie:            cfg.Cookie.withDefaults(),
		metrics:           cfg.Metrics,
		log:               cfg.Log,
	}
	if m.log == nil {
		m.log = slog.New(slog.DiscardHandler)
	}
	if len(m.secrets) == 0 {
		return nil, fmt.Errorf("%w: secret is required", ErrConfig)
	}
	if m.store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrConfig)
	}
	return m, nil
}

// Resolver returns a socket-side resolver reading the same cookie from the same store.
func (m *Manager) Resolver() *Resolver {
	return &Resolver{
		name:    m.name,
		secrets: slices.Clone(m.secrets),
		store:   m.store,
		metrics: m.metrics,
		log:     m.log,
	}
}

// Middleware attaches a Session to every request context and persists it
// once the handler returns.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, cookieID, err := m.load(r)
		if err != nil {
			m.log.Error("session.load.fail", "err", err, "path", r.URL.Path)
			http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
			return
		}

		sw := &sessionResponseWriter{ResponseWriter: w}
		sw.beforeHeader = func() { m.writeCookie(w, s, cookieID) }

		next.ServeHTTP(sw, r.WithContext(NewContext(r.Context(), s)))

		// Handler wrote nothing: headers are still ours.
		sw.fireBeforeHeader()

		m.commit(r.Context(), s, cookieID)
	})
}

// load returns the request session and the id the client presented ("" when none).
func (m *Manager) load(r *http.Request) (*Session, string, error) {
	if c, err := r.Cookie(m.name); err == nil && c.Value != "" {
		sid, err := DecodeCookieValue(c.Value, m.secrets)
		if err == nil && ids.ValidSessionID(sid) {
			v, err := m.store.Get(r.Context(), sid)
			switch {
			case err == nil:
				return newAuthentic(sid, m.store, v), sid, nil
			case !errors.Is(err, ErrNotFound):
				return nil, "", err
			}
		}
	}

	sid, err := ids.NewSessionID()
	if err != nil {
		return nil, "", err
	}
	m.metrics.sessionCreated()
	return newAuthentic(sid, m.store, nil), "", nil
}

func (m *Manager) writeCookie(w http.ResponseWriter, s *Session, cookieID string) {
	if s.state == stateDestroyed {
		if cookieID != "" {
			m.expireCookie(w)
		}
		return
	}

	if s.id == cookieID {
		// Existing session: only persistent cookies need their expiry pushed forward.
		if m.cookie.MaxAge <= 0 {
			return
		}
	} else if !m.saveUninitialized && !s.modified() {
		return
	}

	value, err := EncodeCookieValue(s.id, m.secrets)
	if err != nil {
		m.log.Error("session.cookie.sign.fail", "err", err)
		return
	}
	c := &http.Cookie{
		Name:     m.name,
		Value:    value,
		Path:     m.cookie.Path,
		Domain:   m.cookie.Domain,
		HttpOnly: true,
		Secure:   m.cookie.Secure,
		SameSite: m.cookie.SameSite,
	}
	if m.cookie.MaxAge > 0 {
		c.MaxAge = int(m.cookie.MaxAge / time.Second)
		c.Expires = time.Now().UTC().Add(m.cookie.MaxAge)
	}
	http.SetCookie(w, c)
}

func (m *Manager) expireCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    "",
		Path:     m.cookie.Path,
		Domain:   m.cookie.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cookie.Secure,
		SameSite: m.cookie.SameSite,
	})
}

// commit applies the resave / saveUninitialized policy.
func (m *Manager) commit(ctx context.Context, s *Session, cookieID string) {
	if s.state != stateAuthentic {
		return
	}

	isNew := s.id != cookieID
	modified := s.modified()

	var save bool
	switch {
	case isNew && !m.saveUninitialized:
		save = modified
	case isNew:
		save = true
	default:
		save = m.resave || modified
	}

	if save {
		err := s.Save(ctx)
		m.metrics.saved(err)
		if err != nil {
			m.log.Error("session.save.fail", "err", err, "session_id", s.id)
			return
		}
		s.fingerprint = fingerprint(s.Values)
		return
	}

	if !isNew {
		if err := m.store.Touch(ctx, s.id); err != nil && !errors.Is(err, ErrNotFound) {
			m.log.Info("session.touch.fail", "err", err, "session_id", s.id)
		}
	}
}

// sessionResponseWriter runs beforeHeader exactly once, right before the
// status line is committed.
type sessionResponseWriter struct {
	http.ResponseWriter
	beforeHeader func()
	fired        bool
}

func (w *sessionResponseWriter) fireBeforeHeader() {
	if w.fired {
		return
	}
	w.fired = true
	if w.beforeHeader != nil {
		w.beforeHeader()
	}
}

func (w *sessionResponseWriter) WriteHeader(code int) {
	w.fireBeforeHeader()
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionResponseWriter) Write(p []byte) (int, error) {
	w.fireBeforeHeader()
	return w.ResponseWriter.Write(p)
}

func (w *sessionResponseWriter) Flush() {
	w.fireBeforeHeader()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *sessionResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not support hijacking")
	}
	w.fired = true
	return hj.Hijack()
}

func (w *sessionResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
