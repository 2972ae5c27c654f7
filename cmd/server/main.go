package main

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"broadcast-control-plane/backend/internal/admin/domain"
	"broadcast-control-plane/backend/internal/admin/manager"
	adminrepo "broadcast-control-plane/backend/internal/admin/repository"
	"broadcast-control-plane/backend/internal/apperrors"
	"broadcast-control-plane/backend/internal/authz"
	"broadcast-control-plane/backend/internal/config"
	"broadcast-control-plane/backend/internal/gateway"
	"broadcast-control-plane/backend/internal/ratelimit"
	"broadcast-control-plane/backend/internal/security"
	"broadcast-control-plane/backend/internal/server"
	sessionrepo "broadcast-control-plane/backend/internal/session/repository"
	"broadcast-control-plane/backend/internal/telemetry"
	otelemetry "broadcast-control-plane/backend/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := otelemetry.NewProviders(ctx, cfg.OTLPEndpoint, "bcp-server", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	emitter := otelemetry.NewEventEmitter(providers.LoggerProvider)

	priv, pub, err := signingKeys(cfg)
	if err != nil {
		log.Fatalf("signing keys: %v", err)
	}
	if interval := cfg.RotationInterval(); interval > 0 && security.RotationOverdue(cfg.JWTPrivateKey, interval, time.Now()) {
		log.Printf("WARNING: signing key at %s is older than %s; rotate it", cfg.JWTPrivateKey, interval)
	}

	admins, err := adminrepo.NewFileRepository(cfg.StorageRoot)
	if err != nil {
		log.Fatalf("identity store: %v", err)
	}
	if _, err := admins.Create(ctx, domain.SystemUsername); err != nil && apperrors.KindOf(err) != apperrors.KindUsernameTaken {
		log.Fatalf("system identity: %v", err)
	}

	sessions := sessionrepo.NewMemoryRepository()
	hasher := security.NewHasher(cfg.BcryptCost)
	m := manager.New(admins, sessions, hasher, manager.WithOrphanGrace(cfg.OrphanGraceDuration()))

	provider := security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
	blacklist, err := security.NewBlacklist(filepath.Join(cfg.StorageRoot, "revocations.json"))
	if err != nil {
		log.Fatalf("revocation list: %v", err)
	}
	authority := security.NewAuthority(provider, blacklist, m)
	m.SetTokenValidator(authority)

	evaluator, err := authz.NewOPAEvaluator()
	if err != nil {
		log.Fatalf("policy: %v", err)
	}
	guard := authz.NewGuard(sessions, evaluator)
	m.SetOwnershipGuard(guard)

	limiter := ratelimit.New(ratelimit.Config{
		AuthAttempts:   cfg.AuthAttempts,
		AuthWindow:     cfg.AuthWindowDuration(),
		AuthLockout:    cfg.AuthLockoutDuration(),
		OpsPerMinute:   cfg.OpsPerMinute,
		OpsBurst:       cfg.OpsBurst,
		MaxConnections: cfg.MaxConnsPerIdentity,
		OnBreach:       ratelimit.BreachAction(cfg.ConnBreachAction),
	})

	g := gateway.New(m, authority, sessions, guard, limiter, emitter,
		gateway.WithExpiryWarningLead(cfg.ExpiryWarningLeadDuration()))

	sweeper := manager.NewSweeper(admins, sessions, m, authority, emitter, cfg.RetentionDuration())
	go sweeper.RunEvery(ctx, cfg.SweepIntervalDuration())
	go g.Watcher().RunEvery(ctx, time.Minute)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.New(g).Router(),
	}
	go func() {
		log.Printf("control plane listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	cancel()
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("stopped")
}

// signingKeys loads the configured key pair, or generates an ephemeral ECDSA
// pair for development when none is configured. Ephemeral keys invalidate all
// tokens on restart.
func signingKeys(cfg *config.Config) (crypto.Signer, crypto.PublicKey, error) {
	if cfg.JWTPrivateKey != "" && cfg.JWTPublicKey != "" {
		priv, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			return nil, nil, err
		}
		pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
		if err != nil {
			return nil, nil, err
		}
		return priv, pub, nil
	}
	log.Println("WARNING: JWT_PRIVATE_KEY not set; using an ephemeral signing key")
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return priv, &priv.PublicKey, nil
}
