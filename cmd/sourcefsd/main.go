package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/sourcefs/sourcefs/internal/logger"
	"github.com/sourcefs/sourcefs/pkg/server"
)

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/sourcefs"
	}
	return filepath.Join(home, ".sourcefs")
}

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "Daemon state directory")
	configPath := flag.String("config", "", "Service configuration file (default <data-dir>/config.yaml)")
	helperPath := flag.String("privhelper", "", "Privileged helper binary (empty: run without one)")
	flag.Parse()

	if *configPath == "" {
		*configPath = filepath.Join(*dataDir, "config.yaml")
	}

	fmt.Println("sourcefsd - sourcefs daemon")

	srv, err := server.New(server.Options{
		ConfigPath: *configPath,
		DataDir:    *dataDir,
		HelperPath: *helperPath,
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	cfg := srv.Config()
	logger.SetLevel(cfg.Logging.Level)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to configure log output: %v", err)
	}

	logger.Info("Data directory: %s", *dataDir)
	logger.Info("Configuration file: %s", *configPath)

	ctx := context.Background()
	if err := srv.Prepare(ctx); err != nil {
		log.Fatalf("Failed to prepare server: %v", err)
	}

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
