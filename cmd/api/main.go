package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halcyonops/sandbox-control-plane/internal/api"
	"github.com/halcyonops/sandbox-control-plane/internal/config"
	"github.com/halcyonops/sandbox-control-plane/internal/directory"
	"github.com/halcyonops/sandbox-control-plane/internal/events"
	"github.com/halcyonops/sandbox-control-plane/internal/identity"
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
	handler := api.NewRouter(cfg, st, svc)

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// OU moves and access grants in aws mode may take well over 15s
		// before the handler writes a response.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("sandbox-control-plane listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}
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
