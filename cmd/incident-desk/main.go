package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"incident-desk/config"
	"incident-desk/core/appbootstrap"
	"incident-desk/core/utils"
)

func main() {
	configPath := flag.String("config", os.Getenv("INCIDENT_DESK_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := utils.NewLoggerForEnv(cfg.AppEnv)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := appbootstrap.Run(ctx, cfg, logger); err != nil {
		logger.Fatalf("incident-desk: %v", err)
	}
}
