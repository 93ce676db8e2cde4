package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/config"
	"github.com/kcalvelli/axios-ai-mail-sub000/internal/bootstrap"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// .env is a local-development convenience; absence is fine.
	_ = godotenv.Load()

	mode := flag.String("mode", "all", "Run mode: api, engine, all")
	accountsFile := flag.String("config", "", "Accounts file; overrides MAIL_ACCOUNTS_FILE")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *accountsFile != "" {
		cfg.AccountsFile = *accountsFile
	}

	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	deps, cleanup, err := bootstrap.NewDependencies(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("wiring failed")
	}
	defer cleanup()

	var engine *bootstrap.Engine
	if *mode == "engine" || *mode == "all" {
		engine = bootstrap.NewEngine(deps)
		engine.Start(context.Background())
	}

	switch *mode {
	case "engine":
		waitForSignal(log)
	case "api", "all":
		app := bootstrap.NewAPI(deps)

		go func() {
			waitForSignal(log)

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := app.ShutdownWithContext(ctx); err != nil {
				log.Warn().Err(err).Msg("api shutdown incomplete")
			}
		}()

		addr := ":" + cfg.Port
		log.Info().Str("addr", addr).Str("mode", *mode).Msg("control plane listening")
		if err := app.Listen(addr); err != nil {
			log.Error().Err(err).Msg("listen failed")
		}
	default:
		log.Fatal().Str("mode", *mode).Msg("unknown mode")
	}

	if engine != nil {
		engine.Stop()
	}
}

func waitForSignal(log zerolog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("shutting down")
}
