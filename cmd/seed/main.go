// seed populates a development database with a demo user holding two
// granted roles. Safe to re-run: existing rows are left alone.
package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"multirole-accounts/internal/config"
	"multirole-accounts/internal/credential"
	"multirole-accounts/internal/db"
	identitydomain "multirole-accounts/internal/identity/domain"
	identityrepo "multirole-accounts/internal/identity/repository"
	"multirole-accounts/internal/lifecycle"
	"multirole-accounts/internal/profile"
	"multirole-accounts/internal/registry"
	"multirole-accounts/internal/role"
	"multirole-accounts/internal/security"
	userdomain "multirole-accounts/internal/user/domain"
	userrepo "multirole-accounts/internal/user/repository"
)

const (
	seedEmail    = "demo@multirole.local"
	seedPassword = "demo-password"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("seed: DATABASE_URL is required")
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users := userrepo.NewPostgresRepository()
	identities := identityrepo.NewPostgresRepository()
	hasher := security.NewHasher(cfg.BcryptCost)

	u, err := users.GetByEmail(ctx, database, seedEmail)
	if err != nil {
		log.Fatalf("seed: lookup user: %v", err)
	}
	if u == nil {
		u = &userdomain.User{
			ID:    uuid.NewString(),
			Email: seedEmail,
		}
		if err := users.Create(ctx, database, u); err != nil {
			log.Fatalf("seed: create user: %v", err)
		}
		hash, err := hasher.Hash([]byte(seedPassword))
		if err != nil {
			log.Fatalf("seed: hash password: %v", err)
		}
		ident := &identitydomain.Identity{
			ID:           uuid.NewString(),
			UserID:       u.ID,
			PasswordHash: hash,
		}
		if err := identities.Create(ctx, database, ident); err != nil {
			log.Fatalf("seed: create identity: %v", err)
		}
		log.Printf("seed: created user %s (%s)", u.ID, seedEmail)
	} else {
		log.Printf("seed: user %s already exists", seedEmail)
	}

	tokens, err := tokenProvider(cfg)
	if err != nil {
		log.Fatalf("seed: token provider: %v", err)
	}

	profiles := profile.NewPostgresStore()
	reg := registry.New(profiles)
	svc := lifecycle.NewService(
		database,
		lifecycle.NewTxRunner(database),
		users,
		profiles,
		reg,
		identities,
		hasher,
		credential.NewIssuer(database, reg, tokens),
		cfg.GracePeriod(),
	)

	for _, kind := range []role.Kind{role.KindStudent, role.KindTutor} {
		_, err := svc.Grant(ctx, u.ID, string(kind), seedPassword, nil)
		switch {
		case err == nil:
			log.Printf("seed: granted %s", kind)
		case errors.Is(err, lifecycle.ErrAlreadyActive):
			log.Printf("seed: %s already granted", kind)
		default:
			log.Fatalf("seed: grant %s: %v", kind, err)
		}
	}
	log.Println("seed: done")
}

// tokenProvider builds the signer from configured PEM keys, falling back to
// an ephemeral key pair so the seed works without JWT config.
func tokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	if cfg.JWTPrivateKey == "" {
		return security.NewTestTokenProvider()
	}
	priv, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		return nil, err
	}
	pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		return nil, err
	}
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.TTL()), nil
}
