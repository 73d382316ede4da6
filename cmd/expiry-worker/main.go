package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/medisched/hospital-booking/internal/booking"
	"github.com/medisched/hospital-booking/internal/config"
	"github.com/medisched/hospital-booking/internal/db"
	"github.com/medisched/hospital-booking/internal/metrics"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("expiry-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running expiry worker in env=%s interval=%s hold_ttl=%s",
		cfg.Env, cfg.SweepInterval, cfg.HoldTTL)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	repo := booking.NewPgRepository(pgPool)
	sweeper := booking.NewSweeper(repo, cfg.HoldTTL, metrics.NewBookingMetrics(nil))

	// Run once at startup
	runOnce(rootCtx, sweeper)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, sweeper)
		}
	}
}

func runOnce(ctx context.Context, sweeper *booking.Sweeper) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := sweeper.Sweep(runCtx)
	if err != nil {
		log.Printf("sweep error: %v", err)
		return
	}
	log.Printf("sweep complete: expired=%d in %s", expired, time.Since(start))
}
