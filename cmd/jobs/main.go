package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halcyonops/sandbox-control-plane/internal/config"
	"github.com/halcyonops/sandbox-control-plane/internal/directory"
	"github.com/halcyonops/sandbox-control-plane/internal/events"
	"github.com/halcyonops/sandbox-control-plane/internal/identity"
	"github.com/halcyonops/sandbox-control-plane/internal/jobs"
	"github.com/halcyonops/sandbox-control-plane/internal/sandbox"
	"github.com/halcyonops/sandbox-control-plane/internal/store"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	st := store.New(pool)
	ids, dir, pub, err := buildProviders(ctx, cfg)
	if err != nil {
		log.Fatalf("init cloud providers: %v", err)
	}

	svc := sandbox.NewService(st, ids, dir, pub)
	jobs.NewRunner(st, svc).Start(ctx)

	log.Printf("sandbox-jobs worker started")
	<-ctx.Done()
	log.Printf("sandbox-jobs worker stopping")
}

func buildProviders(ctx context.Context, cfg config.Config) (identity.Service, directory.Service, events.Publisher, error) {
	if cfg.CloudProvider != "aws" {
		return identity.NewFakeService(), directory.NewFakeService(), events.NewFakePublisher(), nil
	}

	ids, err := identity.NewAWSService(ctx, identity.AWSOptions{
		InstanceARN:       cfg.SSOInstanceARN,
		IdentityStoreID:   cfg.IdentityStoreID,
		PermissionSetARNs: roleMap(cfg.PermissionSetMap),
		GroupIDs:          roleMap(cfg.GroupMap),
	})
	if err != nil {
		return nil, nil, nil, err
	}
	dir, err := directory.NewAWSService(ctx, directory.AWSOptions{
		OUByPool: poolMap(cfg.OUMap),
	})
	if err != nil {
		return nil, nil, nil, err
	}
	pub, err := events.NewEventBridgePublisher(ctx, cfg.EventBusName)
	if err != nil {
		return nil, nil, nil, err
	}
	return ids, dir, pub, nil
}

func roleMap(in map[string]string) map[identity.Role]string {
	out := make(map[identity.Role]string, len(in))
	for k, v := range in {
		out[identity.Role(k)] = v
	}
	return out
}

func poolMap(in map[string]string) map[directory.Pool]string {
	out := make(map[directory.Pool]string, len(in))
	for k, v := range in {
		out[directory.Pool(k)] = v
	}
	return out
}
