package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"roboai/internal/app"
	"roboai/internal/config"
	"roboai/internal/logger"

	"github.com/fatih/color"
)

const banner = `
           _           _           _
 _ __ ___ | |__   ___ | |  __ _ (_)
| '__/ _ \| '_ \ / _ \| | / _' || |
| | | (_) | |_) | (_) |_|| (_| || |
|_|  \___/|_.__/ \___/(_) \__,_||_|
`

func main() {
	cfgPath := flag.String("config", defaultConfigPath(), "path to the config file")
	flag.Parse()

	color.New(color.FgCyan).Print(banner)
	fmt.Println()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		color.Red("load config failed: %v", err)
		os.Exit(1)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("open log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s, mode=%s, file=%s)", cfg.App.Env, cfg.Trading.Mode, *cfgPath)
	if cfg.Trading.IsLive() {
		color.Yellow("LIVE TRADING: orders will be sent to %s", cfg.Broker.Name)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(cfg, *cfgPath)
	if err != nil {
		log.Fatalf("build app failed: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("ROBOAI_CONFIG"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
