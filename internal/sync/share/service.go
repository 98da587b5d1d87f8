// Package share publishes detached snapshots of entities at public,
// code-addressed paths so they can be opened without an account.
//
// A shared snapshot lives at shared/<kind>/<code> on the keyed-path store.
// It has no link back to the source entity: later local edits reach it only
// through an explicit Update, and importing it creates an unrelated copy.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/mirror"
	"github.com/mschirtzinger/flowsync/internal/sync/remote"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

var (
	// ErrNotFound is returned when no snapshot exists for a code.
	ErrNotFound = errors.New("shared item not found")

	// ErrInvalidCode is returned for codes that do not have the share code shape.
	ErrInvalidCode = errors.New("invalid share code")

	// ErrInvalidURL is returned when a share link cannot be parsed.
	ErrInvalidURL = errors.New("invalid share url")
)

// Envelope wraps a shared snapshot.
type Envelope[T any] struct {
	Data      T           `json:"data"`
	ShareCode string      `json:"shareCode"`
	Type      schema.Kind `json:"type"`
	CreatedAt time.Time   `json:"createdAt"`
	LastSync  time.Time   `json:"lastSync"`
}

// Decode converts a raw envelope into a typed one.
func Decode[T any](env Envelope[json.RawMessage]) (Envelope[T], error) {
	out := Envelope[T]{
		ShareCode: env.ShareCode,
		Type:      env.Type,
		CreatedAt: env.CreatedAt,
		LastSync:  env.LastSync,
	}
	if err := json.Unmarshal(env.Data, &out.Data); err != nil {
		return out, fmt.Errorf("failed to decode shared %s: %w", env.Type, err)
	}
	return out, nil
}

// Result is returned by Share.
type Result struct {
	Code string `json:"code"`
	URL  string `json:"url"`
}

// Status is the outcome of the last publish (Share or Update).
type Status struct {
	LastSyncAt       *time.Time `json:"lastSyncAt,omitempty"`
	LastError        string     `json:"lastError,omitempty"`
	LastErrorAt      *time.Time `json:"lastErrorAt,omitempty"`
	PermissionDenied bool       `json:"permissionDenied,omitempty"`
}

// Importer saves a shared snapshot as a new local entity.
type Importer interface {
	ImportShared(ctx context.Context, kind schema.Kind, data json.RawMessage) (string, error)
}

// Service implements sharing on a remote.PathStore.
type Service struct {
	paths    remote.PathStore
	urls     URLConfig
	importer Importer
	bus      *events.Bus
	logger   zerolog.Logger
	now      func() time.Time
	newCode  func() (string, error)

	mu     sync.Mutex
	status Status
}

// NewService creates a sharing service. paths may be nil when no remote is
// configured; every operation then returns remote.ErrUnavailable.
func NewService(paths remote.PathStore, urls URLConfig, importer Importer, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		paths:    paths,
		urls:     urls,
		importer: importer,
		bus:      bus,
		logger:   logger.With().Str("component", "share").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
		newCode:  NewCode,
	}
}

// Path returns where the snapshot for code is stored.
func Path(kind schema.Kind, code string) string {
	return fmt.Sprintf("shared/%s/%s", kind, code)
}

// Status returns the publish state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Share publishes a snapshot of entity under a fresh code.
func (s *Service) Share(ctx context.Context, kind schema.Kind, entity any) (res Result, err error) {
	if err := s.check(kind, ""); err != nil {
		return Result{}, err
	}
	defer func() { s.record("share", kind, res.Code, err) }()

	data, err := encode(entity)
	if err != nil {
		return Result{}, err
	}
	code, err := s.newCode()
	if err != nil {
		return Result{}, err
	}
	link, err := BuildURL(s.urls, code, kind)
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	env := Envelope[json.RawMessage]{Data: data, ShareCode: code, Type: kind, CreatedAt: now, LastSync: now}
	if err := s.write(ctx, env); err != nil {
		return Result{}, err
	}

	s.logger.Info().Str("kind", string(kind)).Str("code", code).Msg("shared")
	s.bus.Publish(events.ShareUpdated{Code: code, Kind: kind})
	return Result{Code: code, URL: link}, nil
}

// Get returns the snapshot for code.
func (s *Service) Get(ctx context.Context, code string, kind schema.Kind) (Envelope[json.RawMessage], error) {
	if err := s.check(kind, code); err != nil {
		return Envelope[json.RawMessage]{}, err
	}

	raw, err := s.paths.Read(ctx, Path(kind, code))
	if errors.Is(err, remote.ErrNotFound) {
		return Envelope[json.RawMessage]{}, fmt.Errorf("%s %s: %w", kind, code, ErrNotFound)
	}
	if err != nil {
		return Envelope[json.RawMessage]{}, fmt.Errorf("failed to read shared %s: %w", kind, err)
	}

	var env Envelope[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope[json.RawMessage]{}, fmt.Errorf("failed to decode shared %s: %w", kind, err)
	}
	return env, nil
}

// Update replaces the snapshot's data and lastSync. CreatedAt is kept.
func (s *Service) Update(ctx context.Context, code string, kind schema.Kind, entity any) (err error) {
	if err := s.check(kind, code); err != nil {
		return err
	}
	defer func() { s.record("update", kind, code, err) }()

	env, err := s.Get(ctx, code, kind)
	if err != nil {
		return err
	}
	data, err := encode(entity)
	if err != nil {
		return err
	}

	env.Data = data
	env.LastSync = s.now()
	if err := s.write(ctx, env); err != nil {
		return err
	}

	s.bus.Publish(events.ShareUpdated{Code: code, Kind: kind})
	return nil
}

// Subscribe calls fn with the current snapshot, then again after every
// update. fn receives nil once the share is revoked.
func (s *Service) Subscribe(ctx context.Context, code string, kind schema.Kind, fn func(*Envelope[json.RawMessage])) (remote.CancelFunc, error) {
	if err := s.check(kind, code); err != nil {
		return nil, err
	}

	cancel, err := s.paths.Subscribe(ctx, Path(kind, code), func(raw json.RawMessage) {
		if raw == nil {
			fn(nil)
			return
		}
		var env Envelope[json.RawMessage]
		if err := json.Unmarshal(raw, &env); err != nil {
			s.logger.Warn().Err(err).Str("code", code).Msg("ignoring undecodable shared snapshot")
			return
		}
		fn(&env)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to shared %s: %w", kind, err)
	}

	env, err := s.Get(ctx, code, kind)
	switch {
	case err == nil:
		fn(&env)
	case errors.Is(err, ErrNotFound):
	default:
		cancel()
		return nil, err
	}
	return cancel, nil
}

// Revoke deletes the snapshot. Revoking a missing share is not an error.
func (s *Service) Revoke(ctx context.Context, code string, kind schema.Kind) error {
	if err := s.check(kind, code); err != nil {
		return err
	}
	if err := s.paths.Delete(ctx, Path(kind, code)); err != nil {
		return fmt.Errorf("failed to revoke shared %s: %w", kind, err)
	}

	s.logger.Info().Str("kind", string(kind)).Str("code", code).Msg("revoked")
	s.bus.Publish(events.ShareUpdated{Code: code, Kind: kind, Revoked: true})
	return nil
}

// Import saves the snapshot for code as a new local entity and returns its id.
func (s *Service) Import(ctx context.Context, code string, kind schema.Kind) (string, error) {
	if s.importer == nil {
		return "", errors.New("share service has no importer")
	}
	env, err := s.Get(ctx, code, kind)
	if err != nil {
		return "", err
	}
	return s.importer.ImportShared(ctx, kind, env.Data)
}

func (s *Service) check(kind schema.Kind, code string) error {
	if s.paths == nil {
		return remote.ErrUnavailable
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: kind %q", schema.ErrInvalid, kind)
	}
	if code != "" && !ValidCode(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return nil
}

// record logs a failed publish and keeps it as the last error. A success
// clears it.
func (s *Service) record(op string, kind schema.Kind, code string, err error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.status = Status{LastSyncAt: &now}
		return
	}

	denied := remote.IsPermissionDenied(err)
	ev := s.logger.Warn()
	if denied {
		ev = s.logger.Error().Bool("permission_denied", true)
	}
	ev.Err(err).Str("op", op).Str("kind", string(kind)).Str("code", code).Msg("share publish failed")

	s.status.LastError = err.Error()
	s.status.LastErrorAt = &now
	s.status.PermissionDenied = denied
}

func (s *Service) write(ctx context.Context, env Envelope[json.RawMessage]) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode shared %s: %w", env.Type, err)
	}
	if err := s.paths.Write(ctx, Path(env.Type, env.ShareCode), raw); err != nil {
		return fmt.Errorf("failed to write shared %s: %w", env.Type, err)
	}
	return nil
}

// encode snapshots entity as JSON with absent values removed.
func encode(entity any) (json.RawMessage, error) {
	fields, err := schema.ToMap(entity)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(mirror.StripAbsent(fields))
	if err != nil {
		return nil, fmt.Errorf("failed to encode shared entity: %w", err)
	}
	return data, nil
}
