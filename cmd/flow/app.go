package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/flowsync/internal/config"
	"github.com/mschirtzinger/flowsync/internal/logging"
	"github.com/mschirtzinger/flowsync/internal/sync/cache"
	"github.com/mschirtzinger/flowsync/internal/sync/entity"
	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/identity"
	"github.com/mschirtzinger/flowsync/internal/sync/mirror"
	"github.com/mschirtzinger/flowsync/internal/sync/realtime"
	"github.com/mschirtzinger/flowsync/internal/sync/remote"
	"github.com/mschirtzinger/flowsync/internal/sync/share"
)

// app is the wired core shared by every command.
type app struct {
	loader *config.Loader
	cfg    *config.Config
	logger zerolog.Logger

	cache    *cache.Cache
	bus      *events.Bus
	identity *identity.Provider
	mirror   *mirror.Mirror
	store    *entity.Store
	listener *realtime.Listener
	coord    *mirror.Coordinator
	shares   *share.Service

	// remoteErr records why the configured backend is unreachable.
	remoteErr error

	closers []io.Closer
}

// openApp loads config and wires the core. Remote failures are logged and
// the app runs offline; only local failures are returned.
//
// The caller MUST call close() when done.
func openApp(ctx context.Context) (*app, error) {
	loader := config.NewLoader(configFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, logCloser := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	a := &app{loader: loader, cfg: cfg, logger: logger, bus: events.New()}
	a.closers = append(a.closers, logCloser)

	c, err := cache.OpenContext(ctx, cfg.CachePath)
	if err != nil {
		a.close()
		return nil, err
	}
	a.cache = c
	a.closers = append(a.closers, c)

	a.identity = identity.New(c, identity.Config{Secret: cfg.Identity.JWTSecret, Issuer: cfg.Identity.Issuer})
	if _, err := a.identity.EnsureAnonymous(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to establish identity: %w", err)
	}

	docs, paths := a.connectRemote(ctx)

	a.mirror = mirror.New(mirror.Config{Docs: docs, Identity: a.identity, Bus: a.bus, Logger: logger})
	a.store = entity.NewStore(c, a.bus, logger)
	a.store.SetMirror(a.mirror)
	a.mirror.SetLocal(a.store)

	if docs != nil {
		a.listener = realtime.New(docs, a.store, a.mirror, logger)
	}

	a.shares = share.NewService(paths, share.URLConfig{
		Origin: cfg.Share.Origin,
		Locale: cfg.Share.Locale,
		App:    cfg.Share.App,
	}, a.store, a.bus, logger)

	return a, nil
}

// newCoordinator wires the identity coordinator. With live set, realtime
// subscriptions follow the durable identity; one-shot commands only
// reconcile. close() stops it.
func (a *app) newCoordinator(live bool) *mirror.Coordinator {
	var sub mirror.Subscriber
	if live && a.listener != nil {
		sub = a.listener
	}
	a.coord = mirror.NewCoordinator(a.mirror, a.identity, sub, a.bus, a.logger)
	return a.coord
}

// connectRemote opens the configured backend. Interface values are only
// assigned from non-nil stores.
func (a *app) connectRemote(ctx context.Context) (remote.DocumentStore, remote.PathStore) {
	var (
		docs  remote.DocumentStore
		paths remote.PathStore
	)
	log := logging.Component(a.logger, "remote")

	openRedis := func() *remote.Redis {
		r, err := remote.NewRedis(a.cfg.Remote.RedisURL)
		if err == nil {
			err = r.Ping(ctx)
		}
		if err != nil {
			if r != nil {
				_ = r.Close()
			}
			a.remoteErr = errors.Join(a.remoteErr, err)
			log.Warn().Err(err).Msg("redis unavailable, running offline")
			return nil
		}
		a.closers = append(a.closers, r)
		return r
	}

	switch a.cfg.Remote.Backend {
	case config.BackendRedis:
		if r := openRedis(); r != nil {
			docs, paths = r.Documents(), r.Paths()
		}
	case config.BackendPostgres:
		pg, err := remote.NewPostgres(ctx, a.cfg.Remote.PostgresURL)
		if err == nil {
			err = pg.Ping(ctx)
		}
		if err != nil {
			if pg != nil {
				_ = pg.Close()
			}
			a.remoteErr = errors.Join(a.remoteErr, err)
			log.Warn().Err(err).Msg("postgres unavailable, running offline")
		} else {
			a.closers = append(a.closers, pg)
			docs = pg
		}
		// Postgres has no path store; shares need redis.
		if a.cfg.Remote.RedisURL != "" {
			if r := openRedis(); r != nil {
				paths = r.Paths()
			}
		}
	}
	return docs, paths
}

// close tears the core down in reverse order. Pending pushes are flushed
// before the remote connection is closed.
func (a *app) close() {
	if a.coord != nil {
		a.coord.Stop()
	}
	if a.mirror != nil {
		a.mirror.Wait()
		_ = a.mirror.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

// runApp opens the app, runs fn, and closes the app.
func runApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}
