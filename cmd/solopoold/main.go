package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"solopool/internal/config"
	"solopool/internal/metrics"
	"solopool/internal/pool"
	"solopool/internal/status"
)

func main() {
	cfgPath := flag.String("config", "pool.json", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	prom, err := metrics.NewPromRecorder(cfg.Coin.Symbol)
	if err != nil {
		log.Fatalf("init metrics: %v", err)
	}

	orc, err := pool.New(cfg, prom, log.Printf)
	if err != nil {
		log.Fatalf("init pool: %v", err)
	}

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		mux.Handle("/status", status.New(orc))
		go func() {
			log.Printf("metrics/status listening on %s", cfg.MetricsListen)
			if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil {
				log.Printf("metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("shutdown signal received, stopping...")
		cancel()
	}()

	if err := orc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("pool exited: %v", err)
	}
}
