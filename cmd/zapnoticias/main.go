package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/zapnoticias/zapnoticias/internal/api"
	"github.com/zapnoticias/zapnoticias/internal/dedup"
	"github.com/zapnoticias/zapnoticias/internal/digest"
	"github.com/zapnoticias/zapnoticias/internal/flow"
	"github.com/zapnoticias/zapnoticias/internal/genai"
	"github.com/zapnoticias/zapnoticias/internal/messaging"
	"github.com/zapnoticias/zapnoticias/internal/payments"
	"github.com/zapnoticias/zapnoticias/internal/scheduler"
	"github.com/zapnoticias/zapnoticias/internal/store"
	"github.com/zapnoticias/zapnoticias/internal/util"
	"github.com/zapnoticias/zapnoticias/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ZapNotícias state data
	DefaultStateDir = "/var/lib/zapnoticias"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "zapnoticias.db"
	// DefaultChannel is the messaging backend used when none is configured
	DefaultChannel = "whatsmeow"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping ZapNotícias with configured modules")
	if err := run(flags); err != nil {
		slog.Error("ZapNotícias failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ZapNotícias exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir       string
	DatabaseURL    string
	WhatsAppDSN    string
	Channel        string
	NumericCode    bool
	OpenAIKey      string
	OpenAIModel    string
	APIAddr        string
	VerifyToken    string
	DedupRetention string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput       *string
	numeric        *bool
	stateDir       *string
	dbDSN          *string
	whatsappDSN    *string
	channel        *string
	openaiKey      *string
	openaiModel    *string
	apiAddr        *string
	verifyToken    *string
	dedupRetention *time.Duration
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:       util.EnvOrDefault("ZAPNOTICIAS_STATE_DIR", DefaultStateDir),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		WhatsAppDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		Channel:        util.EnvOrDefault("MESSAGING_CHANNEL", DefaultChannel),
		NumericCode:    util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		APIAddr:        os.Getenv("API_ADDR"),
		VerifyToken:    os.Getenv("WHATSAPP_VERIFY_TOKEN"),
		DedupRetention: os.Getenv("DEDUP_RETENTION"),
	}

	// The contact store falls back to SQLite in the state directory.
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	// The whatsmeow session store shares the contact DSN unless overridden.
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = config.DatabaseURL
	}

	slog.Debug("environment variables loaded",
		"ZAPNOTICIAS_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"MESSAGING_CHANNEL", config.Channel,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	retention := dedup.DefaultRetention
	if config.DedupRetention != "" {
		if d, err := time.ParseDuration(config.DedupRetention); err == nil {
			retention = d
		} else {
			slog.Warn("Invalid DEDUP_RETENTION, using default", "value", config.DedupRetention, "default", retention)
		}
	}

	flags := Flags{
		qrOutput:       flag.String("qr-output", "", "path to write login QR code"),
		numeric:        flag.Bool("numeric-code", config.NumericCode, "use numeric login code instead of QR code (overrides $WHATSAPP_NUMERIC_CODE)"),
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for ZapNotícias data (overrides $ZAPNOTICIAS_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN for the contact store (overrides $DATABASE_URL)"),
		whatsappDSN:    flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the whatsmeow session store (overrides $WHATSAPP_DB_DSN)"),
		channel:        flag.String("channel", config.Channel, "messaging backend: whatsmeow or twilio (overrides $MESSAGING_CHANNEL)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:    flag.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		verifyToken:    flag.String("verify-token", config.VerifyToken, "webhook verification token (overrides $WHATSAPP_VERIFY_TOKEN)"),
		dedupRetention: flag.Duration("dedup-retention", retention, "how long inbound event ids are remembered (overrides $DEDUP_RETENTION)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"channel", *flags.channel,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"dedupRetention", *flags.dedupRetention)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return err
	}
	return nil
}

// buildStore opens the contact store for the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildMessenger constructs the messaging service for the configured channel.
func buildMessenger(flags Flags) (messaging.Service, error) {
	switch strings.ToLower(*flags.channel) {
	case "twilio":
		client, err := messaging.NewTwilioClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	default:
		var waOpts []whatsapp.Option
		if *flags.whatsappDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
		}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	}
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	gate := dedup.NewStoreGate(st, *flags.dedupRetention)

	messenger, err := buildMessenger(flags)
	if err != nil {
		return err
	}
	if err := messenger.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := messenger.Stop(); err != nil {
			slog.Error("Messaging service stop failed", "error", err)
		}
	}()

	var genOpts []genai.Option
	if *flags.openaiKey != "" {
		genOpts = append(genOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genOpts = append(genOpts, genai.WithModel(*flags.openaiModel))
	}
	generator, err := genai.NewClient(genOpts...)
	if err != nil {
		return err
	}

	stripeClient := payments.NewClient()

	engine := flow.NewEngine(st, messenger, generator, stripeClient)
	go engine.Run(ctx, gate)

	broadcaster := digest.NewBroadcaster(st, messenger, generator)
	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob("* * * * *", func() {
		broadcaster.Tick(ctx, time.Now())
	}); err != nil {
		return err
	}
	if err := sched.AddJob("* * * * *", func() {
		gate.Sweep(time.Now())
	}); err != nil {
		return err
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.verifyToken != "" {
		apiOpts = append(apiOpts, api.WithVerifyToken(*flags.verifyToken))
	}
	server := api.NewServer(engine, gate, stripeClient, apiOpts...)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown failed", "error", err)
		}
		return nil
	}
}
