// Package main seeds a development environment for the realtime service.
//
// It applies the schema when database.auto_migrate is on, creates default
// notification preferences for a fixed set of demo users, queues one
// new_follower notification per demo pair and prints an access token per
// user for connecting to the websocket gateway.
//
// Import Path: bazaar.dev/realtime/cmd/seed
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/collab"
	"bazaar.dev/realtime/internal/config"
	"bazaar.dev/realtime/internal/infrastructure"
	"bazaar.dev/realtime/internal/notification"
	"bazaar.dev/realtime/internal/pkg/logger"
	"bazaar.dev/realtime/internal/queue"
)

// tokenLifetime is how long printed demo tokens stay valid.
const tokenLifetime = 24 * time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	}

	logger.Info("Starting data seeding...")

	users := demoUsers()
	if err := seedPreferences(ctx, notification.NewEntRepository(db.Ent), users); err != nil {
		return fmt.Errorf("seed preferences: %w", err)
	}

	// Insert-only client: no queues or workers, the server consumes the jobs.
	client, err := river.NewClient[pgx.Tx](riverpgxv5.New(db.Pool), &river.Config{})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	dq := queue.New(db.Pool, queue.Options{})
	dq.Attach(client)

	ids, err := dq.AddNotificationJobBatch(ctx, followerPayloads(users), nil)
	if err != nil {
		return fmt.Errorf("queue demo notifications: %w", err)
	}
	logger.Info("Demo notifications queued", zap.Int("jobs", len(ids)))

	now := time.Now()
	for _, u := range users {
		token, err := mintAccessToken([]byte(cfg.Security.JWTSecret), cfg.Security.JWTIssuer, u, now)
		if err != nil {
			return fmt.Errorf("mint token for %s: %w", u.ID, err)
		}
		fmt.Printf("%s\t%s\n", u.ID, token)
	}

	logger.Info("Data seeding completed successfully")
	return nil
}

// demoUser is a seeded account.
type demoUser struct {
	ID       string
	Username string
}

func demoUsers() []demoUser {
	return []demoUser{
		{ID: "demo-alice", Username: "alice"},
		{ID: "demo-bob", Username: "bob"},
		{ID: "demo-carol", Username: "carol"},
	}
}

// seedPreferences is idempotent: existing rows are left untouched.
func seedPreferences(ctx context.Context, repo notification.Repository, users []demoUser) error {
	for _, u := range users {
		if _, err := repo.CreatePreferences(ctx, notification.DefaultPreferences(u.ID)); err != nil {
			return err
		}
	}
	logger.Info("Notification preferences seeded", zap.Int("users", len(users)))
	return nil
}

// followerPayloads makes every user follow the next one, in a ring.
func followerPayloads(users []demoUser) []notification.Payload {
	if len(users) < 2 {
		return nil
	}
	out := make([]notification.Payload, 0, len(users))
	for i, follower := range users {
		recipient := users[(i+1)%len(users)]
		out = append(out, notification.Payload{
			Type:        notification.TypeNewFollower,
			RecipientID: recipient.ID,
			SenderID:    follower.ID,
			Variables:   map[string]any{"followerName": follower.Username},
			Data:        map[string]any{"followerId": follower.ID},
		})
	}
	return out
}

func mintAccessToken(key []byte, issuer string, u demoUser, now time.Time) (string, error) {
	claims := collab.Claims{
		Username: u.Username,
		Type:     collab.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
