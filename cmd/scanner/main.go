package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"sigscan/config"
	"sigscan/internal/scanner"
	"sigscan/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// run scanner
	eng, err := scanner.Start(ctx, cfg, log)
	if err != nil {
		log.Fatal("scanner failed", zap.Error(err))
	}
	defer eng.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")
}
