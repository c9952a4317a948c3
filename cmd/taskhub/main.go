package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"taskhub/internal/api"
	"taskhub/internal/auth"
	"taskhub/internal/jobs"
	"taskhub/internal/registry"
	"taskhub/internal/runtime"
	"taskhub/internal/scheduler"
	"taskhub/internal/store"
)

func main() {
	var (
		addr      = flag.String("addr", ":8080", "HTTP bind address")
		dbPath    = flag.String("db", "taskhub.db", "SQLite DB path")
		queueSize = flag.Int("queue", 1024, "task queue capacity")
		workDir   = flag.String("work-dir", ".", "directory for fetch downloads and image processing")
		smtpAddr  = flag.String("smtp", "localhost:25", "SMTP relay address")
		smtpFrom  = flag.String("from", "noreply@taskhub.local", "From address for outgoing mail")
		tokenTTL  = flag.Duration("token-ttl", time.Hour, "access token lifetime")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	secret := os.Getenv("TASKHUB_TOKEN_SECRET")
	if secret == "" {
		log.Fatal().Msg("TASKHUB_TOKEN_SECRET must be set (min 32 characters)")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	users := store.NewUserStore(db)

	tokens, err := auth.NewTokenService(secret, *tokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("token service")
	}

	reg := registry.New()
	rt := runtime.New(reg, *queueSize, log.Logger)
	rt.Start()

	sender := jobs.NewSMTPSender(*smtpAddr, *smtpFrom)
	builders := jobs.Registry(sender, *workDir)

	sched := scheduler.New(func(taskType string, payload json.RawMessage) (string, error) {
		work, err := jobs.Build(builders, taskType, payload)
		if err != nil {
			return "", err
		}
		return rt.Submit(taskType, work)
	}, log.Logger)
	sched.Start()

	srv := &http.Server{Addr: *addr, Handler: api.NewServer(api.Config{
		Runtime:   rt,
		Registry:  reg,
		Users:     users,
		Tokens:    tokens,
		Scheduler: sched,
		Sender:    sender,
		Builders:  builders,
	})}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	sched.Stop()
	if err := rt.Stop(ctxTimeout); err != nil {
		log.Warn().Err(err).Msg("worker did not stop cleanly")
	}
}
