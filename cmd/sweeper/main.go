// sweeper runs the lifecycle sweep against a storage root on an interval:
// idle-identity retention and revocation-list pruning. Sessions are runtime
// state held by the server, so the server runs its own in-process sweep; this
// binary covers storage roots the server is not currently holding open.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"broadcast-control-plane/backend/internal/admin/manager"
	adminrepo "broadcast-control-plane/backend/internal/admin/repository"
	"broadcast-control-plane/backend/internal/config"
	"broadcast-control-plane/backend/internal/security"
	sessionrepo "broadcast-control-plane/backend/internal/session/repository"
)

type revocationPruner struct {
	blacklist *security.Blacklist
}

func (p revocationPruner) PruneRevocations(now time.Time) int {
	return p.blacklist.Prune(now)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	admins, err := adminrepo.NewFileRepository(cfg.StorageRoot)
	if err != nil {
		log.Fatalf("identity store: %v", err)
	}
	blacklist, err := security.NewBlacklist(filepath.Join(cfg.StorageRoot, "revocations.json"))
	if err != nil {
		log.Fatalf("revocation list: %v", err)
	}

	sweeper := manager.NewSweeper(admins, sessionrepo.NewMemoryRepository(), nil,
		revocationPruner{blacklist}, nil, cfg.RetentionDuration())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("sweeper: shutting down...")
		cancel()
	}()

	log.Printf("sweeper: sweeping %s every %s", cfg.StorageRoot, cfg.SweepIntervalDuration())
	sweeper.Sweep(ctx)
	sweeper.RunEvery(ctx, cfg.SweepIntervalDuration())
	log.Println("sweeper: stopped")
}
