package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"abwart/internal/config"
	"abwart/internal/engine"
	"abwart/internal/reconciler"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", ""), "path to the static registry configuration file")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "log level: trace, debug, info, warn, error")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(lvl)
	} else {
		log.Warnf("unknown log level %q, defaulting to info", *logLevel)
	}
	entry := logrus.NewEntry(log)

	explicitConfig := *configPath != ""
	staticPath := *configPath
	if staticPath == "" {
		staticPath = "./config.yml"
	}

	eng, err := engine.New()
	if err != nil {
		log.WithError(err).Fatal("abwart: failed to connect to the container engine")
	}
	defer eng.Close()

	if explicitConfig {
		if _, err := os.Stat(staticPath); err != nil {
			log.WithError(err).WithField("path", staticPath).Fatal("abwart: configured static config file is not readable")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configChanged := make(chan struct{}, 1)
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	if err := config.WatchStaticFile(staticPath, configChanged, stopWatch, entry); err != nil {
		log.WithError(err).Warn("abwart: static config hot-reload disabled")
	}

	events := eng.Subscribe(ctx, func(err error) {
		entry.WithError(err).Warn("engine: event stream error")
	})

	r := reconciler.New(eng, staticPath, entry)

	log.WithField("config_path", staticPath).Info("abwart: starting")

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, events, configChanged) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("abwart: shutting down")
		cancel()
		<-done
	case err := <-done:
		if err != nil && err != context.Canceled {
			log.WithError(err).Error("abwart: reconciler exited unexpectedly")
			os.Exit(1)
		}
	}

	log.Info("abwart: shutdown complete")
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
