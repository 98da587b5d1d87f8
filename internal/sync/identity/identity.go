// Package identity tracks which account the local data belongs to.
//
// A device starts with an anonymous identity (a random uuid persisted in the
// local cache). Signing in with a verified credential switches to a durable
// identity whose id scopes the cloud mirror. Signing out returns to a fresh
// anonymous identity.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CacheKey is where the identity state is persisted.
const CacheKey = "flowsync.identity"

var (
	// ErrInvalidCredential is returned when a credential fails verification.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrNotConfigured is returned when sign-in is attempted without a
	// verification secret.
	ErrNotConfigured = errors.New("identity provider not configured")
)

// State is the persisted identity.
type State struct {
	ID        string    `json:"id"`
	Durable   bool      `json:"durable"`
	Email     string    `json:"email,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsZero reports whether no identity has been established.
func (s State) IsZero() bool { return s.ID == "" }

// KV is the slice of the local cache the provider needs.
type KV interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any) error
}

// Config holds credential verification settings.
type Config struct {
	// Secret verifies HS256 credentials. Empty disables SignIn.
	Secret string
	// Issuer, when set, must match the credential's iss claim.
	Issuer string
}

// Claims carried by a durable credential.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

// ChangeFunc observes identity transitions.
type ChangeFunc func(previous, current State)

// Provider owns the current identity.
type Provider struct {
	kv  KV
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	nextID    int
	listeners map[int]ChangeFunc
}

// New returns a provider backed by kv. Call EnsureAnonymous before Current.
func New(kv KV, cfg Config) *Provider {
	return &Provider{
		kv:        kv,
		cfg:       cfg,
		now:       time.Now,
		listeners: make(map[int]ChangeFunc),
	}
}

// EnsureAnonymous loads the persisted identity, creating and persisting an
// anonymous one when none exists. The result is stable across restarts.
func (p *Provider) EnsureAnonymous(ctx context.Context) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.IsZero() {
		return p.state, nil
	}

	var stored State
	found, err := p.kv.Get(ctx, CacheKey, &stored)
	if err != nil {
		return State{}, fmt.Errorf("failed to load identity: %w", err)
	}
	if found && !stored.IsZero() {
		p.state = stored
		return p.state, nil
	}

	st := p.anonymous()
	if err := p.kv.Set(ctx, CacheKey, st); err != nil {
		return State{}, fmt.Errorf("failed to persist identity: %w", err)
	}
	p.state = st
	return st, nil
}

// Current returns the identity in effect.
func (p *Provider) Current() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SignIn verifies credential and switches to the durable identity named by
// its subject. A failed verification leaves the state unchanged.
func (p *Provider) SignIn(ctx context.Context, credential string) (State, error) {
	claims, err := p.Verify(credential)
	if err != nil {
		return State{}, err
	}

	provider := claims.Provider
	if provider == "" {
		provider = "jwt"
	}
	next := State{
		ID:        claims.Subject,
		Durable:   true,
		Email:     claims.Email,
		Provider:  provider,
		UpdatedAt: p.now().UTC(),
	}
	return next, p.transition(ctx, next)
}

// SignOut returns to a fresh anonymous identity.
func (p *Provider) SignOut(ctx context.Context) (State, error) {
	next := p.anonymous()
	return next, p.transition(ctx, next)
}

// Reload re-reads the persisted identity and adopts it when another process
// signed in or out against the same cache. Listeners fire only when the
// identity actually changed.
func (p *Provider) Reload(ctx context.Context) (State, error) {
	var stored State
	found, err := p.kv.Get(ctx, CacheKey, &stored)
	if err != nil {
		return p.Current(), fmt.Errorf("failed to load identity: %w", err)
	}
	if !found || stored.IsZero() {
		return p.Current(), nil
	}

	p.mu.Lock()
	prev := p.state
	if prev.ID == stored.ID && prev.Durable == stored.Durable {
		p.state = stored
		p.mu.Unlock()
		return stored, nil
	}
	p.state = stored
	listeners := p.snapshotListeners()
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(prev, stored)
	}
	return stored, nil
}

func (p *Provider) transition(ctx context.Context, next State) error {
	p.mu.Lock()
	if err := p.kv.Set(ctx, CacheKey, next); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("failed to persist identity: %w", err)
	}
	prev := p.state
	p.state = next
	listeners := p.snapshotListeners()
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(prev, next)
	}
	return nil
}

// snapshotListeners returns listeners in registration order. Caller holds mu.
func (p *Provider) snapshotListeners() []ChangeFunc {
	listeners := make([]ChangeFunc, 0, len(p.listeners))
	for id := 0; id <= p.nextID; id++ {
		if fn, ok := p.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	return listeners
}

// OnChange registers fn for every transition. The returned function removes
// it and is safe to call repeatedly.
func (p *Provider) OnChange(fn ChangeFunc) func() {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Verify checks an HS256 credential and returns its claims.
func (p *Provider) Verify(credential string) (*Claims, error) {
	if p.cfg.Secret == "" {
		return nil, ErrNotConfigured
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	}
	if p.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.cfg.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return []byte(p.cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}
	return claims, nil
}

// Issue signs a credential for subject. It exists for local development and
// tests; production credentials come from the account service.
func (p *Provider) Issue(subject, email string, ttl time.Duration) (string, error) {
	if p.cfg.Secret == "" {
		return "", ErrNotConfigured
	}
	now := p.now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    p.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign credential: %w", err)
	}
	return token, nil
}

func (p *Provider) anonymous() State {
	return State{ID: uuid.NewString(), UpdatedAt: p.now().UTC()}
}
