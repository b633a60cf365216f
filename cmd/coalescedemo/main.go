// Command coalescedemo exercises a Coordinator through all three
// delivery modalities against a toy "lookup" callback: flag-parsed
// config path, os.Stderr error reporting, os.Exit(1) on failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"coalesce"
	"coalesce/internal/config"
	"coalesce/pkg/coalescepool"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.Parse()

	if configFile == "" {
		configFile = os.Getenv("COALESCE_CONFIG_FILE")
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logrus.StandardLogger()
	if level, parseErr := logrus.ParseLevel(cfg.LogLevel); parseErr == nil {
		logger.SetLevel(level)
	}

	if err := run(cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "coalescedemo: %v\n", err)
		os.Exit(1)
	}
}

// lookup simulates a batched backend call: one "call" per invocation,
// regardless of how many unique keys it was given.
func lookup(keys []string) ([]string, error) {
	results := make([]string, len(keys))
	for i, k := range keys {
		results[i] = "value-for-" + k
	}
	return results, nil
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	pool := coalescepool.NewFixedPool(coalescepool.Config{MaxWorkers: cfg.Workers}, logger)
	defer pool.Stop()

	coordinator := coalesce.NewCoordinatorWithOptions[string, string](coalesce.Options[string, string]{
		Window:           cfg.Window,
		MaxSize:          cfg.MaxBatchSize,
		BufferCapacity:   cfg.BufferCapacity,
		RemoveDuplicates: cfg.RemoveDuplicates,
		WorkerPool:       pool,
		Callback:         lookup,
		Logger:           logger,
	})
	defer coordinator.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Blocking modality: fire a burst of concurrent lookups sharing a
	// handful of keys, letting the coordinator coalesce duplicates.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		key := "key-" + strconv.Itoa(i%5)
		go func(key string) {
			defer wg.Done()
			val, err := coordinator.Execute(ctx, key)
			if err != nil {
				logger.WithError(err).WithField("key", key).Warn("blocking lookup failed")
				return
			}
			logger.WithFields(logrus.Fields{"key": key, "value": val}).Info("blocking lookup resolved")
		}(key)
	}
	wg.Wait()

	// Deferred modality.
	future, err := coordinator.ExecuteAsFuture(ctx, "future-key")
	if err != nil {
		return fmt.Errorf("submit future: %w", err)
	}
	val, err := future.Get(ctx)
	if err != nil {
		return fmt.Errorf("await future: %w", err)
	}
	logger.WithField("value", val).Info("deferred lookup resolved")

	// Reactive modality.
	mono := coordinator.ExecuteAsMono("mono-key")
	sub := mono.Subscribe()
	val, err = sub.Block(ctx)
	if err != nil {
		return fmt.Errorf("await mono: %w", err)
	}
	logger.WithField("value", val).Info("reactive lookup resolved")

	// Swap the worker pool backend live: ErrGroupPool replaces the
	// FixedPool without the coordinator itself knowing the difference.
	errgroupPool := coalescepool.NewErrGroupPool(ctx, cfg.Workers)
	coordinator.UpdateConfig(coalesce.Options[string, string]{
		Window:           cfg.Window,
		MaxSize:          cfg.MaxBatchSize,
		BufferCapacity:   cfg.BufferCapacity,
		RemoveDuplicates: cfg.RemoveDuplicates,
		WorkerPool:       errgroupPool,
		Callback:         lookup,
	})
	val, err = coordinator.Execute(ctx, "post-swap-key")
	if err != nil {
		return fmt.Errorf("execute after pool swap: %w", err)
	}
	logger.WithField("value", val).Info("lookup resolved after worker pool swap")
	if err := errgroupPool.Wait(); err != nil {
		return fmt.Errorf("errgroup pool wait: %w", err)
	}

	stats := coordinator.Stats()
	logger.WithFields(logrus.Fields{
		"batches_closed":    stats.BatchesClosed,
		"members_handled":   stats.MembersHandled,
		"unique_dispatched": stats.UniqueDispatched,
	}).Info("coalescedemo finished")

	return nil
}
