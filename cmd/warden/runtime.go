package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	jwttoken "ldgate/internal/jwt_token"
	"ldgate/internal/platform/config"
	"ldgate/internal/platform/postgres"
	platformredis "ldgate/internal/platform/redis"
	"ldgate/internal/warden/ports"
	"ldgate/internal/warden/store/memory"
	pgstore "ldgate/internal/warden/store/postgres"
	redisstore "ldgate/internal/warden/store/redis"
	"ldgate/pkg/platform/audit/publisher"
	auditmemory "ldgate/pkg/platform/audit/store/memory"
	auditpg "ldgate/pkg/platform/audit/store/postgres"
)

// backend is the storage a warden process runs on: grants and seats, plus
// where audit events land.
type backend struct {
	store ports.Store
	audit publisher.Store
	close func() error
}

// openBackend connects the configured store. On PostgreSQL audit events
// share the database; elsewhere they stay in process memory.
func openBackend(ctx context.Context, cfg config.Warden, log *slog.Logger) (*backend, error) {
	noop := func() error { return nil }

	switch cfg.Store {
	case config.StoreRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		log.Info("using redis store")
		return &backend{
			store: redisstore.New(client.Client),
			audit: auditmemory.NewInMemoryStore(),
			close: client.Close,
		}, nil

	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pgstore.Migrate(ctx, db); err != nil {
			return nil, errors.Join(err, db.Close())
		}
		if err := auditpg.Migrate(ctx, db); err != nil {
			return nil, errors.Join(err, db.Close())
		}
		log.Info("using postgres store")
		return &backend{
			store: pgstore.New(db),
			audit: auditpg.New(db),
			close: db.Close,
		}, nil

	default:
		log.Warn("using in-memory store; accounts and grants are lost on exit")
		return &backend{
			store: memory.New(),
			audit: auditmemory.NewInMemoryStore(),
			close: noop,
		}, nil
	}
}

// signer builds the grant signer from WARDEN_SIGNING_KEY. Admin commands
// never sign, so they may run with an ephemeral key.
func signer(cfg config.Warden, required bool) (*jwttoken.Signer, error) {
	seed := cfg.SigningKeySeed
	if len(seed) == 0 {
		if required {
			return nil, fmt.Errorf("WARDEN_SIGNING_KEY is required (generate one with `warden keygen`)")
		}
		seed = make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("generate ephemeral key: %w", err)
		}
	}
	return jwttoken.NewSignerFromSeed(seed, "")
}
