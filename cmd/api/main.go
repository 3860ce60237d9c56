// Command api serves the route planning HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fieldroute/internal/api"
	"fieldroute/internal/buildinfo"
	"fieldroute/internal/config"
	"fieldroute/internal/matrix"
	"fieldroute/internal/metrics"
	"fieldroute/internal/planner"
	"fieldroute/internal/source"
	"fieldroute/internal/store"
)

func main() {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	metrics.RegisterDefault()
	log.Printf("op=startup %s", buildinfo.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	mp, mclose, err := matrix.FromConfig(cfg.Matrix, cfg.RedisURL)
	if err != nil {
		log.Fatalf("matrix: %v", err)
	}
	defer mclose.Close()

	src, err := source.FromConfig(cfg.Sources, st)
	if err != nil {
		log.Fatalf("sources: %v", err)
	}

	var broker api.EventBroker = api.NewBroker()
	if cfg.RedisURL != "" {
		rb, err := api.NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.Fatalf("broker: %v", err)
		}
		defer rb.Close()
		broker = rb
	}

	p := &planner.Planner{Config: cfg, Matrices: mp, Sources: src}
	s := api.NewServer(cfg, st, p, broker)

	go s.NewWebhookWorker().Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("op=shutdown err=%v", err)
		}
		// cancels running plans; they still persist with stop reason canceled
		s.Close()
	}()

	log.Printf("op=startup addr=%s auth=%s sources=%s", srv.Addr, cfg.Auth.Mode, src.Name())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	<-ctx.Done()
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Printf("op=startup store=memory")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	log.Printf("op=startup store=postgres")
	return pg, func() { _ = pg.Close() }, nil
}
