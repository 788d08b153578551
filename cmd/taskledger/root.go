package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/warp/task-ledger/api"
	"github.com/warp/task-ledger/config"
	"github.com/warp/task-ledger/engine"
	"github.com/warp/task-ledger/identity"
	"github.com/warp/task-ledger/store/sqlite"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "taskledger",
	Short: "Task sessions and reward ledger",
	Long: `taskledger pays participants for keeping advertisement tasks open for
their full duration and lets administrators moderate users, tasks and
withdrawal requests.

Run "taskledger serve" for the HTTP API. The other commands operate on the
same database directly and act as the first administrator. They are safe
to run while the server is up: every save is versioned, and whichever
side saved second reloads and retries against the other's changes.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the TOML config file")
}

// app bundles everything a command needs. Close releases the database.
type app struct {
	cfg     config.Config
	db      *sqlite.Store
	store   *engine.LedgerStore
	ident   *identity.Service
	handler *api.Handler
	admin   engine.AdminActor
}

// openApp loads config, opens the database and makes sure an
// administrator exists.
func openApp(ctx context.Context, opts ...engine.Option) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	defaults, err := cfg.DefaultSettings()
	if err != nil {
		return nil, err
	}

	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	opts = append([]engine.Option{engine.WithListener(engine.LogListener{})}, opts...)
	store, err := engine.OpenLedgerStore(ctx, db, defaults, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		// Tokens signed with a random secret stop working on restart.
		log.Println("[Server] No auth.jwt_secret configured, using a random secret")
		secret = uuid.NewString()
	}
	ident, err := identity.NewService(store, engine.NewModeration(store), secret, cfg.TokenTTL())
	if err != nil {
		db.Close()
		return nil, err
	}

	created, err := ident.EnsureAdmin(ctx, cfg.Bootstrap.AdminUsername, cfg.Bootstrap.AdminPassword)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		log.Printf("[Server] Created administrator %q", cfg.Bootstrap.AdminUsername)
	}

	a := &app{
		cfg:     cfg,
		db:      db,
		store:   store,
		ident:   ident,
		handler: api.NewHandler(store, ident, api.NewSurfaceRegistry(cfg.HeartbeatTimeout())),
	}
	for _, u := range store.ListUsers() {
		if u.IsAdmin() {
			a.admin = engine.AdminActor{ID: u.ID}
			break
		}
	}
	a.handler.Ping = db.Ping
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// withApp runs fn with an opened app and a bounded context.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
