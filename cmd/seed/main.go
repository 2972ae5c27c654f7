// seed prepares a storage root for local development: it creates the
// reserved system identity and a dev admin with a known credential.
// Idempotent: existing identities are left untouched.
package main

import (
	"context"
	"fmt"
	"log"

	"broadcast-control-plane/backend/internal/admin/domain"
	adminrepo "broadcast-control-plane/backend/internal/admin/repository"
	"broadcast-control-plane/backend/internal/apperrors"
	"broadcast-control-plane/backend/internal/config"
	"broadcast-control-plane/backend/internal/security"
)

const (
	devUsername   = "dev-admin"
	devCredential = "password123"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	admins, err := adminrepo.NewFileRepository(cfg.StorageRoot)
	if err != nil {
		log.Fatalf("identity store: %v", err)
	}
	ctx := context.Background()

	if _, err := admins.Create(ctx, domain.SystemUsername); err != nil {
		if apperrors.KindOf(err) != apperrors.KindUsernameTaken {
			log.Fatalf("system identity: %v", err)
		}
		log.Println("system identity already exists")
	} else {
		log.Println("created system identity")
	}

	existing, err := admins.GetByUsername(ctx, devUsername)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("seed already applied (%s exists), skipping", devUsername)
		return
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	hash, err := hasher.Hash([]byte(devCredential))
	if err != nil {
		log.Fatalf("hash credential: %v", err)
	}

	ident, err := admins.Create(ctx, devUsername)
	if err != nil {
		log.Fatalf("create dev admin: %v", err)
	}
	if _, err := admins.Update(ctx, ident.AdminID, func(i *domain.Identity) error {
		i.PasswordHash = hash
		return nil
	}); err != nil {
		log.Fatalf("bind credential: %v", err)
	}

	log.Println("seed completed")
	fmt.Printf("Dev login: %s / %s\n", devUsername, devCredential)
}
