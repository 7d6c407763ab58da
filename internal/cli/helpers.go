package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dislink/dxp/internal/experiment"
	"github.com/dislink/dxp/internal/logger"
	"github.com/dislink/dxp/internal/store"
	"github.com/dislink/dxp/internal/tracking"
)

// runtime is the wired engine a command works against.
type runtime struct {
	log      *logger.Logger
	store    *store.SQLiteStore
	svc      *experiment.Service
	registry *prometheus.Registry
	redis    *tracking.RedisTracker
}

func (r *runtime) close() {
	if r.redis != nil {
		r.redis.Close()
	}
	r.store.Close()
	r.log.Sync()
}

// withService opens the database, wires the engine and its trackers,
// executes the function, and handles cleanup.
func withService(ctx context.Context, opts *options, fn func(*runtime) error) error {
	log, err := logger.New(opts.logMode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	s, err := store.Open(opts.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	rt := &runtime{
		log:      log,
		store:    s,
		registry: prometheus.NewRegistry(),
	}
	defer rt.close()

	trackers := tracking.Multi{
		tracking.NewStoreTracker(s),
		tracking.NewLogTracker(log),
		tracking.NewMetricsTracker(rt.registry),
	}
	if opts.cfg.RedisAddr != "" {
		rt.redis, err = tracking.NewRedisTracker(ctx, opts.cfg.RedisAddr, opts.cfg.RedisChannel)
		if err != nil {
			log.Warn("redis tracker disabled", "error", err)
		} else {
			trackers = append(trackers, rt.redis)
		}
	}

	rt.svc = experiment.New(s,
		experiment.WithTracker(trackers),
		experiment.WithLogger(log),
	)

	return fn(rt)
}
