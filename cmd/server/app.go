package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/reservation-core/booking"
	"github.com/warp/reservation-core/config"
	"github.com/warp/reservation-core/generic"
	"github.com/warp/reservation-core/generic/store"
	"github.com/warp/reservation-core/leave"
	"github.com/warp/reservation-core/lock/distlock"
	"github.com/warp/reservation-core/store/sqlite"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg      config.Config
	log      *logrus.Logger
	ledger   generic.Ledger
	manager  *generic.Manager
	registry *prometheus.Registry
	bookings *booking.Service
	leave    *leave.Service
	closers  []func() error
}

// loadConfig reads --config and applies --addr and --db on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Storage.Driver = "sqlite"
		cfg.Storage.Path = db
	}
	return cfg, cfg.Validate()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	log, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	switch cfg.Storage.Driver {
	case "memory":
		a.ledger = store.NewMemory()
	default:
		if cfg.Storage.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		db, err := sqlite.New(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		a.ledger = db
		a.closers = append(a.closers, db.Close)
	}

	var locks generic.LockCoordinator
	switch cfg.Lock.Backend {
	case "redis":
		rdb, err := distlock.Dial(ctx, cfg.Lock.RedisAddr)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Lock.RedisAddr, err)
		}
		a.closers = append(a.closers, rdb.Close)
		locks = distlock.New(redis.UniversalClient(rdb), cfg.Lock.TTL, 0)
	default:
		locks = generic.NewKeyedLocker()
	}

	a.manager = generic.NewManager(a.ledger, locks)
	a.manager.Log = log
	a.manager.LockTimeout = cfg.Lock.AcquireTimeout
	a.manager.Metrics = generic.NewMetrics(a.registry)

	a.bookings = booking.NewService(a.manager)
	a.leave = leave.NewService(a.manager)

	log.WithFields(logrus.Fields{
		"storage": cfg.Storage.Driver,
		"path":    cfg.Storage.Path,
		"locks":   cfg.Lock.Backend,
	}).Info("reservation core initialized")
	return a, nil
}

// Close releases storage and lock connections in reverse order.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
