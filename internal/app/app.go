// Package app wires configuration to the stores and publishers the
// binaries share.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/smukkama/campus-energy/internal/aggregation"
	"github.com/smukkama/campus-energy/internal/batch"
	"github.com/smukkama/campus-energy/internal/catalog"
	"github.com/smukkama/campus-energy/internal/database"
	"github.com/smukkama/campus-energy/internal/passstate"
	"github.com/smukkama/campus-energy/internal/queue"
	"github.com/smukkama/campus-energy/internal/tick"
	"github.com/smukkama/campus-energy/pkg/config"
)

// ConfigureLogging sets the logrus level from a name such as "info"
func ConfigureLogging(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

// TickConfig converts the simulation settings
func TickConfig(cfg *config.Config) (tick.Config, error) {
	loc, err := cfg.Simulation.Location()
	if err != nil {
		return tick.Config{}, err
	}
	tc := tick.DefaultConfig()
	tc.Interval = cfg.Simulation.Interval
	tc.BatchSize = cfg.Simulation.BatchSize
	tc.Retry = batch.RetryPolicy{
		MaxAttempts: cfg.Simulation.MaxAttempts,
		BaseDelay:   cfg.Simulation.BackoffBase,
		Multiplier:  cfg.Simulation.BackoffMultiplier,
	}
	tc.Location = loc
	return tc, nil
}

// SavingsConfig converts the savings constants
func SavingsConfig(cfg *config.Config) aggregation.SavingsConfig {
	return aggregation.SavingsConfig{
		KWPerOptimization: cfg.Savings.KWPerOptimization,
		CostPerKWh:        cfg.Savings.CostPerKWh,
		CO2KgPerKWh:       cfg.Savings.CO2KgPerKWh,
		ReadingInterval:   cfg.Savings.ReadingInterval,
	}
}

// Stack holds the connections a binary opened
type Stack struct {
	DB      *database.DB
	Catalog catalog.Reader
	State   *passstate.StateManager
	Events  *queue.EventPublisher

	redis *redis.Client
}

// Open connects to Postgres and, when enabled, Redis and Kafka. The
// reference data comes from CATALOG_FILE when set, else from Postgres.
func Open(ctx context.Context, cfg *config.Config, withEvents bool) (*Stack, error) {
	db, err := database.Connect(cfg.Database.ConnectionString(), cfg.Database.LockTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &Stack{DB: db, Catalog: db}

	if cfg.Simulation.CatalogFile != "" {
		mem, err := catalog.LoadFile(cfg.Simulation.CatalogFile)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Catalog = mem
		logrus.WithField("file", cfg.Simulation.CatalogFile).Info("Using reference data file")
	}

	if cfg.Redis.Enabled {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		s.State = passstate.NewStateManager(s.redis, cfg.Redis.LeaseTTL)
	}

	if withEvents && cfg.Kafka.Enabled {
		for _, topic := range []string{cfg.Kafka.TopicReadings, cfg.Kafka.TopicPasses} {
			if err := queue.CreateTopic(cfg.Kafka.Brokers, topic, cfg.Kafka.NumPartitions, cfg.Kafka.ReplicationFactor); err != nil {
				logrus.WithField("topic", topic).WithError(err).Warn("Topic creation failed (may already exist)")
			}
		}
		s.Events = queue.NewEventPublisher(
			queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings),
			queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPasses),
		)
	}

	return s, nil
}

// DriverOptions attaches the open publishers. The lease is only wanted by
// the live loop.
func (s *Stack) DriverOptions(withLease bool) []tick.Option {
	var opts []tick.Option
	if s.State != nil {
		if withLease {
			opts = append(opts, tick.WithLease(s.State))
		}
		opts = append(opts, tick.WithPassPublisher(s.State))
	}
	if s.Events != nil {
		opts = append(opts, tick.WithReadingPublisher(s.Events), tick.WithPassPublisher(s.Events))
	}
	return opts
}

// Close releases every connection
func (s *Stack) Close() {
	if s.Events != nil {
		if err := s.Events.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close Kafka producers")
		}
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
