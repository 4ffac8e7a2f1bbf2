package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/mgmtsuite/mailsync/internal/api"
	"github.com/mgmtsuite/mailsync/internal/attachstore"
	"github.com/mgmtsuite/mailsync/internal/config"
	"github.com/mgmtsuite/mailsync/internal/connector"
	"github.com/mgmtsuite/mailsync/internal/credential"
	"github.com/mgmtsuite/mailsync/internal/crypto"
	"github.com/mgmtsuite/mailsync/internal/database"
	"github.com/mgmtsuite/mailsync/internal/drafts"
	"github.com/mgmtsuite/mailsync/internal/links"
	"github.com/mgmtsuite/mailsync/internal/mailparse"
	"github.com/mgmtsuite/mailsync/internal/state"
	"github.com/mgmtsuite/mailsync/internal/store"
	"github.com/mgmtsuite/mailsync/internal/syncer"
)

func main() {
	// CLI flags
	syncOnly := flag.Bool("sync", false, "Sync all enabled accounts once and exit")
	flag.Parse()

	// Initialize logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_FORMAT") != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set log level
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("Starting mailsync server")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	if err := bootstrapAdmin(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to bootstrap admin user")
	}

	// Wire services
	enc, err := crypto.NewEncryptor(cfg.DBEncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryptor")
	}

	st := store.New(db)
	creds := credential.NewResolver(enc, cfg.ConnectTimeout, cfg.FetchTimeout)

	attachments, err := attachstore.New(cfg.AttachmentDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize attachment store")
	}

	engine := syncer.NewEngine(st, connector.NewIMAPDialer(), creds,
		mailparse.New(), attachments, cfg.FetchLimit)
	scheduler := syncer.NewScheduler(engine, st, cfg.SyncInterval)

	// Handle sync-only mode
	if *syncOnly {
		log.Info().Msg("Running one-shot mailbox sync...")
		scheduler.RunAll(context.Background())
		log.Info().Msg("Sync completed")
		return
	}

	// Record link kinds this deployment accepts. The linked records live
	// in the ERP, so validation here is shape-only.
	linkReg := links.NewRegistry()
	for _, kind := range []string{"supplier", "purchase_order", "invoice", "contact"} {
		if err := linkReg.Register(kind, links.RequireEntityID); err != nil {
			log.Fatal().Err(err).Str("kind", kind).Msg("Failed to register link kind")
		}
	}

	// Initialize API server
	server := api.NewServer(cfg, db, st, engine, state.New(st), drafts.New(st),
		creds, linkReg, attachments)

	// Background sync loop
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	scheduler.Start(schedCtx)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	schedCancel()
	scheduler.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// bootstrapAdmin creates the first admin user from ADMIN_USERNAME and
// ADMIN_PASSWORD when the users table is empty. A no-op otherwise.
func bootstrapAdmin(db *database.DB) error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	username := os.Getenv("ADMIN_USERNAME")
	password := os.Getenv("ADMIN_PASSWORD")
	if username == "" || password == "" {
		log.Warn().Msg("No users exist and ADMIN_USERNAME/ADMIN_PASSWORD not set; nobody can log in")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	email := os.Getenv("ADMIN_EMAIL")
	if email == "" {
		email = username + "@localhost"
	}

	_, err = db.Exec(`
		INSERT INTO users (username, email, password_hash, role)
		VALUES (?, ?, ?, 'admin')
	`, username, email, string(hash))
	if err != nil {
		return err
	}

	log.Info().Str("username", username).Msg("Created initial admin user")
	return nil
}
