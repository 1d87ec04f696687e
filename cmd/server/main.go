package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/chromelink/internal/infrastructure/config"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/server"
	"github.com/GriffinCanCode/chromelink/internal/simulator"
)

func main() {
	port := flag.String("port", "", "Listen port (overrides PORT)")
	host := flag.String("host", "", "Listen host (overrides HOST)")
	dev := flag.Bool("dev", false, "Development logging")
	simulate := flag.Bool("simulate", false, "Attach an in-process simulated extension")
	fetchPages := flag.Bool("simulate-fetch", false, "Let the simulated extension fetch real pages")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	logCfg.Level = cfg.Logging.Level
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr, err := srv.Listen()
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}
	logger.Info("ChromeLink broker listening",
		zap.String("addr", addr.String()),
		zap.Bool("simulate", *simulate))

	if *simulate {
		simCfg := simulator.DefaultConfig()
		simCfg.Fetch = *fetchPages
		ext := simulator.New(simCfg, logger.Component("simulator"))
		defer ext.Close()
		go func() {
			url := fmt.Sprintf("ws://127.0.0.1:%d/extension", addr.(*net.TCPAddr).Port)
			if err := ext.Run(ctx, url); err != nil && ctx.Err() == nil {
				logger.Error("simulated extension stopped", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	start := time.Now()
	if err := srv.Close(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
		return
	}
	logger.Info("shutdown complete", zap.Duration("took", time.Since(start)))
}
