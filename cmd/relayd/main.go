// Command relayd runs the broadcast relay that pokersync clients connect to.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pokersync/pokersync/internal/relay"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	configPath := flag.String("config", getEnv("RELAY_CONFIG", ""), "path to YAML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	pretty := flag.Bool("pretty", false, "human-readable log output")
	flag.Parse()

	if *pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := relay.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	} else if env := os.Getenv("RELAY_ADDR"); env != "" {
		cfg.Addr = env
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := relay.NewServer(cfg).Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("relay server failed")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
