package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/filmfest/votestream/internal/aggregate"
	"github.com/filmfest/votestream/internal/config"
	httpserver "github.com/filmfest/votestream/internal/http"
	"github.com/filmfest/votestream/internal/recordstore"
	"github.com/filmfest/votestream/internal/store"
	"github.com/filmfest/votestream/internal/vote"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := log.New(os.Stdout, "[votestream] ", log.LstdFlags|log.Lshortfile)

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	storeOpts := store.Options{
		MaxConns:        int32(cfg.DBMaxConns),
		MinConns:        int32(cfg.DBMinConns),
		MaxConnIdleTime: time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime: time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:     time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		Logger:          logger,
	}

	st, err := store.New(dbCtx, cfg.DBURL, storeOpts)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer st.Close()

	records := recordstore.NewPostgres(st)
	committer := vote.NewCommitter(records, logger)
	queue := vote.NewQueue(committer, vote.QueueOptions{
		BatchWindow:  time.Duration(cfg.BatchWindowMs) * time.Millisecond,
		RetryBackoff: time.Duration(cfg.RetryBackoffMs) * time.Millisecond,
		MaxAttempts:  cfg.MaxCommitAttempts,
		Logger:       logger,
	})
	guard := vote.NewGuard(records)
	submitter := vote.NewSubmitter(guard, queue, records, records)
	engine := aggregate.New(records, records, cfg.ExpectedVotersPerSession)

	server := httpserver.New(cfg, st, submitter, queue, engine, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			log.Printf("server error: %v", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("graceful shutdown error: %v", err)
	}

	// Drain accepted votes so a restart does not lose them.
	if err := queue.Close(shutdownCtx); err != nil {
		log.Printf("final queue drain error: %v", err)
	}
}
