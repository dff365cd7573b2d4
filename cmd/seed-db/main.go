// Command seed-db loads a demo promotion set and an admin API key, for local
// development and smoke tests.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartkit/promo-engine/internal/domain/auth"
	"github.com/cartkit/promo-engine/internal/domain/promotion"
	"github.com/cartkit/promo-engine/internal/repository"
	"github.com/cartkit/promo-engine/pkg/money"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or PROMO_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PROMO_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("PROMO_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or PROMO_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("PROMO_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedPromotions(ctx, repository.NewPromotionRepository(pool)); err != nil {
		return errors.Wrap(err, "seed promotions")
	}

	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedPromotions(ctx context.Context, repo *repository.PromotionRepository) error {
	fiveOff := mustMinor("5.00")
	tenCap := mustMinor("10.00")
	fiftyMin := mustMinor("50.00")

	promos := []promotion.Promotion{
		{
			ID:        "seed-storewide-10",
			Name:      "Storewide 10% off",
			Type:      promotion.TypePercent,
			Value:     10,
			AutoApply: true,
			IsActive:  true,
			Priority:  10,
			Stacking:  promotion.StackingExclusive,
			Scope:     promotion.Scope{Storewide: true},
			Targeting: promotion.Targeting{Mode: promotion.TargetAll},
			Eligibility: promotion.Eligibility{
				MaxDiscountMinor: &tenCap,
			},
		},
		{
			ID:        "seed-welcome-5",
			Name:      "Welcome voucher",
			Type:      promotion.TypeFixedAmount,
			Value:     fiveOff,
			Code:      "WELCOME5",
			IsActive:  true,
			Stacking:  promotion.StackingCombinable,
			Scope:     promotion.Scope{Storewide: true},
			Targeting: promotion.Targeting{Mode: promotion.TargetAll},
		},
		{
			ID:        "seed-free-shipping",
			Name:      "Free shipping over 50",
			Type:      promotion.TypeFreeShipping,
			AutoApply: true,
			IsActive:  true,
			Stacking:  promotion.StackingCombinable,
			Scope:     promotion.Scope{Storewide: true},
			Targeting: promotion.Targeting{Mode: promotion.TargetAll},
			Eligibility: promotion.Eligibility{
				MinSubtotalMinor: fiftyMin,
			},
		},
	}

	for i := range promos {
		p := &promos[i]
		if _, err := repo.GetByID(ctx, p.ID); err == nil {
			slog.Info("promotion already seeded", slog.String("id", p.ID))
			continue
		}
		if err := repo.Create(ctx, p); err != nil {
			return errors.Wrapf(err, "create promotion %s", p.ID)
		}
		slog.Info("created promotion", slog.String("id", p.ID), slog.String("name", p.Name))
	}
	return nil
}

const upsertAPIKeySQL = `INSERT INTO api_keys (id, name, key_hash, scopes, active)
	VALUES ($1, $2, $3, $4, TRUE)
	ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash, scopes = EXCLUDED.scopes, active = TRUE`

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	_, err := pool.Exec(ctx, upsertAPIKeySQL,
		"seed-admin", "Seeded admin key", keyHash,
		[]string{auth.ScopePromotionsRead, auth.ScopePromotionsWrite, auth.ScopeCheckout},
	)
	if err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}

	slog.Info("upserted API key", slog.String("id", "seed-admin"))
	return nil
}

// mustMinor converts a decimal amount literal to minor units. Seed data is
// static, so a parse failure is a programming error.
func mustMinor(s string) int64 {
	v, err := money.ParseMinor(s)
	if err != nil {
		panic(err)
	}
	return v
}
