package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"signagebridge/internal/api"
	"signagebridge/internal/config"
	"signagebridge/internal/coordinator"
	"signagebridge/internal/facade"
	"signagebridge/internal/pisignage"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	serverCfg := pisignage.ServerConfig{
		ServerType: envOrDefault("PISIGNAGE_SERVER_TYPE", pisignage.ServerTypeOpenSource),
		Host:       os.Getenv("PISIGNAGE_HOST"),
		Port:       envInt("PISIGNAGE_PORT", pisignage.DefaultPort, logger),
		Username:   os.Getenv("PISIGNAGE_USERNAME"),
		Password:   os.Getenv("PISIGNAGE_PASSWORD"),
		UseSSL:     os.Getenv("PISIGNAGE_USE_SSL") == "true",
	}
	apiPort := envInt("API_PORT", 8081, logger)
	configDir := envOrDefault("CONFIG_DIR", ".")

	if serverCfg.Host == "" || serverCfg.Username == "" || serverCfg.Password == "" {
		logger.Fatal("PISIGNAGE_HOST, PISIGNAGE_USERNAME and PISIGNAGE_PASSWORD environment variables must be set")
	}

	logger.Info("Starting PiSignage bridge",
		zap.String("server_type", serverCfg.ServerType),
		zap.String("url", serverCfg.BaseURL()))

	// Load per-player settings
	loader := config.NewLoader(configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Fatal("Failed to load players config", zap.Error(err))
	}
	settings := loader.Settings()

	// Create session and API client
	session := pisignage.NewSession(serverCfg, logger)
	client := pisignage.NewClient(session, logger)

	// Authenticate up front so OTP accounts can be completed before polling
	if err := client.Authenticate(); err != nil {
		if errors.Is(err, pisignage.ErrOTPRequired) {
			otp := os.Getenv("PISIGNAGE_OTP")
			if otp == "" {
				logger.Fatal("Server requires a one-time passcode; set PISIGNAGE_OTP and restart")
			}
			if err := client.AuthenticateOTP(otp); err != nil {
				logger.Fatal("One-time passcode authentication failed", zap.Error(err))
			}
		} else {
			logger.Fatal("Failed to authenticate with PiSignage server", zap.Error(err))
		}
	}
	logger.Info("Authenticated with PiSignage server")

	// Create the polling coordinator; Start performs the mandatory first
	// refresh and fails hard if the server cannot be read.
	coord := coordinator.New(client, settings.PollInterval(), logger)
	if err := coord.Start(); err != nil {
		logger.Fatal("PiSignage bridge not ready", zap.Error(err))
	}
	defer coord.Stop()

	// Build facade entities for every player in the first snapshot
	players := buildFacades(coord, client, settings, logger)
	displayFleet(players, logger)

	// Start the local API server and wire snapshot push
	server := api.NewServer(coord, settings, logger, apiPort)
	coord.AddListener(server.NotifySnapshot)
	coord.AddFailureListener(server.NotifyCycleFailed)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}
	defer server.Stop()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("PiSignage bridge running. Press Ctrl+C to exit.")

	<-sigChan

	logger.Info("Shutting down gracefully...")
}

// buildFacades creates a media-player facade per player in the snapshot.
func buildFacades(coord *coordinator.Coordinator, client pisignage.API, settings *config.Settings, logger *zap.Logger) []*facade.MediaPlayer {
	snap := coord.Snapshot()
	if snap == nil {
		return nil
	}

	players := make([]*facade.MediaPlayer, 0, len(snap.Players))
	for _, p := range snap.Players {
		players = append(players, facade.NewMediaPlayer(
			p.ID, p.Name, settings.IgnoreCECFor(p.ID), coord, client, logger))
		logger.Info("Registered player",
			zap.String("player_id", p.ID),
			zap.String("name", p.Name),
			zap.Bool("ignore_cec", settings.IgnoreCECFor(p.ID)))
	}
	return players
}

func displayFleet(players []*facade.MediaPlayer, logger *zap.Logger) {
	logger.Info("=== Fleet State ===")
	for _, p := range players {
		logger.Info(fmt.Sprintf("  %s: %s (playlist: %s)",
			p.Name(), p.State(), p.Source()))
	}
	logger.Info("===================")
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int, logger *zap.Logger) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logger.Warn("Invalid integer in environment, using default",
			zap.String("key", key),
			zap.String("value", value),
			zap.Int("default", fallback))
		return fallback
	}
	return parsed
}
