package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// Outcome explains how a handshake resolution ended.
type Outcome string

const (
	OutcomeResolved     Outcome = "resolved"
	OutcomeDisabled     Outcome = "disabled"
	OutcomeNoCookie     Outcome = "no_cookie"
	OutcomeMissingName  Outcome = "missing_name"
	OutcomeBadSignature Outcome = "bad_signature"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeStoreError   Outcome = "store_error"
)

// ResolverConfig is captured by NewResolver; later changes to the caller's
// copy have no effect.
type ResolverConfig struct {
	Name           string
	Secrets        []string
	Store          Store
	DisableSession bool

	Metrics *Metrics
	Log     *slog.Logger
}

// Resolver turns a raw Cookie header into a Session.
type Resolver struct {
	name     string
	secrets  []string
	store    Store
	disabled bool

	metrics *Metrics
	log     *slog.Logger
}

// NewResolver validates cfg. A secret and a store are required unless
// sessions are disabled.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	r := &Resolver{
		name:     cookieNameOrDefault(cfg.Name),
		secrets:  slices.Clone(normalizeSecrets(cfg.Secrets)),
		store:    cfg.Store,
		disabled: cfg.DisableSession,
		metrics:  cfg.Metrics,
		log:      cfg.Log,
	}
	if r.log == nil {
		r.log = slog.New(slog.DiscardHandler)
	}
	if r.disabled {
		return r, nil
	}
	if len(r.secrets) == 0 {
		return nil, fmt.Errorf("%w: secret is required unless sessions are disabled", ErrConfig)
	}
	if r.store == nil {
		return nil, fmt.Errorf("%w: store is required unless sessions are disabled", ErrConfig)
	}
	return r, nil
}

// CookieName returns the session cookie name.
func (r *Resolver) CookieName() string { return r.name }

// Resolve never fails: anything short of an authentic session yields the
// placeholder.
func (r *Resolver) Resolve(ctx context.Context, cookieHeader string) *Session {
	s, _ := r.ResolveOutcome(ctx, cookieHeader)
	return s
}

// ResolveOutcome is Resolve plus the reason, for metrics and debug logs.
// A nil Resolver behaves as one with sessions disabled.
func (r *Resolver) ResolveOutcome(ctx context.Context, cookieHeader string) (*Session, Outcome) {
	if r == nil {
		return Unresolved(), OutcomeDisabled
	}
	s, o := r.resolve(ctx, cookieHeader)
	r.metrics.resolved(o)
	if o != OutcomeResolved {
		r.log.Debug("session.resolve.placeholder", "outcome", string(o))
	}
	return s, o
}

func (r *Resolver) resolve(ctx context.Context, cookieHeader string) (*Session, Outcome) {
	if r.disabled {
		return Unresolved(), OutcomeDisabled
	}
	if cookieHeader == "" {
		return Unresolved(), OutcomeNoCookie
	}

	raw, ok := cookieFromHeader(cookieHeader, r.name)
	if !ok {
		return Unresolved(), OutcomeMissingName
	}

	sid, err := DecodeCookieValue(raw, r.secrets)
	if err != nil || sid == "" {
		return Unresolved(), OutcomeBadSignature
	}

	v, err := r.store.Get(ctx, sid)
	if errors.Is(err, ErrNotFound) {
		return Unresolved(), OutcomeNotFound
	}
	if err != nil {
		return Unresolved(), OutcomeStoreError
	}
	return newAuthentic(sid, r.store, v), OutcomeResolved
}
