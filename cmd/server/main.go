// Command server wires together the synapse-core components (Intent
// Engine, Dispute Resolver, Agent Safety Protocol, Reference Oracle
// Registry) and their external collaborators. It has no transport layer
// of its own — spec.md scopes HTTP/gRPC/WebSocket surfaces out — so this
// entrypoint exists to prove the wiring and to host the Prometheus
// registry an embedding process would expose.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/ocx/synapse-core/internal/config"
	"github.com/ocx/synapse-core/internal/dispute"
	"github.com/ocx/synapse-core/internal/escrow"
	"github.com/ocx/synapse-core/internal/events"
	"github.com/ocx/synapse-core/internal/ids"
	"github.com/ocx/synapse-core/internal/intent"
	"github.com/ocx/synapse-core/internal/oracle"
	"github.com/ocx/synapse-core/internal/safety"
	"github.com/ocx/synapse-core/internal/scoring"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; defaults apply)")
	redisAddr := flag.String("redis-addr", "", "optional redis address for event fan-out")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	idSource := ids.NewSource()
	clock := ids.SystemClock{}
	bus := events.New(logger)

	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer client.Close()
		fanout := events.NewRedisFanout(client, "synapse:events", logger)
		defer fanout.Attach(bus)()
	}

	registry := prometheus.NewRegistry()
	metrics := intent.NewMetrics(registry)

	oracles := oracle.NewRegistry(logger)
	oracles.Register("crypto.price", oracle.NewMockCryptoPriceOracle(map[string]float64{
		"BTC": 65000, "ETH": 3200,
	}))
	oracles.Register("weather.current", oracle.NewMockWeatherOracle(map[string]float64{
		"san_francisco": 18.0, "new_york": 22.0,
	}))

	escrowAdapter := escrow.NewMockAdapter(nil)

	engine := intent.New(cfg.IntentEngine, scoring.DefaultWeights(), idSource, clock, bus, metrics, logger)
	defer engine.Stop()

	resolver := dispute.New(cfg.DisputeResolver, idSource, clock, bus, oracles, escrowAdapter, engine, logger)

	safetyProtocol := safety.New(cfg.SafetyProtocol, clock, bus, logger)

	logger.Info("synapse-core wired",
		"intent_engine", engine != nil,
		"dispute_resolver", resolver != nil,
		"safety_protocol", safetyProtocol != nil,
	)

	// No transport layer here: the core exposes its commands directly to
	// an embedding process (spec.md §1, §6). Block forever so the
	// scheduler and cleanup goroutines keep running under a process
	// supervisor; an embedding service replaces this with its own server
	// loop driving engine/resolver/safetyProtocol from the network.
	select {}
}
