// sweeper purges roles whose grace period has elapsed. One-shot by default
// for cron (exit code 0 when the pass had no row errors); -daemon keeps it
// running on SWEEP_INTERVAL with a Prometheus metrics listener.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"multirole-accounts/internal/audit"
	auditrepo "multirole-accounts/internal/audit/repository"
	"multirole-accounts/internal/config"
	"multirole-accounts/internal/db"
	"multirole-accounts/internal/events"
	eventsotel "multirole-accounts/internal/events/otel"
	"multirole-accounts/internal/events/producer"
	"multirole-accounts/internal/health"
	"multirole-accounts/internal/lifecycle"
	"multirole-accounts/internal/profile"
	"multirole-accounts/internal/registry"
	"multirole-accounts/internal/sweeper"
	userrepo "multirole-accounts/internal/user/repository"
)

func main() {
	daemon := flag.Bool("daemon", false, "run periodically instead of one-shot")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("sweeper: DATABASE_URL is required")
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("sweeper: shutting down...")
		cancel()
	}()

	providers, err := eventsotel.NewProviders(ctx, cfg.OTLPEndpoint, "multirole-sweeper", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	var emitter events.Emitter
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.KafkaTopic); kp != nil {
		defer kp.Close()
		emitter = kp
	} else {
		emitter = eventsotel.NewEventEmitter(providers.LoggerProvider)
	}

	profiles := profile.NewPostgresStore()
	reg := registry.New(profiles)
	users := userrepo.NewPostgresRepository()
	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(database), nil)

	sw := sweeper.New(
		database,
		lifecycle.NewTxRunner(database),
		profiles,
		reg,
		users,
		cfg.SweepRatePerSec,
		sweeper.WithAuditLogger(auditLogger),
		sweeper.WithEmitter(emitter),
	)

	if *daemon {
		if cfg.MetricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				health.NewHandler(database).Register(mux)
				if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
					log.Printf("sweeper: metrics listener: %v", err)
				}
			}()
		}
		log.Printf("sweeper: running every %s", cfg.Interval())
		sw.RunPeriodic(ctx, cfg.Interval())
		return
	}

	sum, err := sw.Sweep(ctx)
	if err != nil {
		log.Fatalf("sweeper: sweep aborted: %v", err)
	}
	log.Printf("sweeper: rolesPurged=%d errors=%d", sum.RolesPurged, sum.Errors)
	if sum.Errors > 0 {
		os.Exit(1)
	}
}
