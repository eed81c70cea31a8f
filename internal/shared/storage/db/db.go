package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver
	"golang.org/x/sync/singleflight"

	"compat-backend/internal/shared/telemetry"
)

// Options controls the run-history pool. Zero fields fall back to
// DefaultServerOptions.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

var (
	openDB = sql.Open

	connectGroup singleflight.Group
	shared       struct {
		mu sync.Mutex
		db *sql.DB
	}
)

// DefaultServerOptions sizes the API pool. Each analysis writes its run row
// twice and reads are paged listings, so a handful of connections covers
// the engine-bound request rate.
func DefaultServerOptions() Options {
	return Options{
		MaxOpenConns:    6,
		MaxIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnMaxLifetime: 30 * time.Minute,
		PingTimeout:     3 * time.Second,
	}
}

// DefaultWorkerOptions is for queue workers and the compat CLI, which record
// at most a handful of runs at a time.
func DefaultWorkerOptions() Options {
	return Options{
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxIdleTime: 30 * time.Second,
		ConnMaxLifetime: 15 * time.Minute,
		PingTimeout:     3 * time.Second,
	}
}

// DefaultMigrateOptions holds one connection for the whole goose session and
// waits longer on the first ping so a database that is still starting is not
// reported as down.
func DefaultMigrateOptions() Options {
	return Options{
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxIdleTime: 10 * time.Minute,
		ConnMaxLifetime: 10 * time.Minute,
		PingTimeout:     15 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultServerOptions()
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = def.MaxOpenConns
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = def.MaxIdleConns
	}
	if o.MaxIdleConns > o.MaxOpenConns {
		o.MaxIdleConns = o.MaxOpenConns
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if o.ConnMaxIdleTime <= 0 {
		o.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = def.PingTimeout
	}
	return o
}

type envOverride struct {
	key   string
	apply func(o *Options, raw string) error
}

var envOverrides = []envOverride{
	{"DB_MAX_OPEN_CONNS", intField(func(o *Options) *int { return &o.MaxOpenConns })},
	{"DB_MAX_IDLE_CONNS", intField(func(o *Options) *int { return &o.MaxIdleConns })},
	{"DB_CONN_MAX_LIFETIME", durationField(func(o *Options) *time.Duration { return &o.ConnMaxLifetime })},
	{"DB_CONN_MAX_IDLE_TIME", durationField(func(o *Options) *time.Duration { return &o.ConnMaxIdleTime })},
	{"DB_PING_TIMEOUT", durationField(func(o *Options) *time.Duration { return &o.PingTimeout })},
}

func intField(field func(*Options) *int) func(*Options, string) error {
	return func(o *Options, raw string) error {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*field(o) = n
		return nil
	}
}

func durationField(field func(*Options) *time.Duration) func(*Options, string) error {
	return func(o *Options, raw string) error {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*field(o) = d
		return nil
	}
}

// OptionsFromEnv applies DB_* overrides on top of base. Unparseable values
// are logged and ignored.
func OptionsFromEnv(base Options) Options {
	opts := base
	for _, ov := range envOverrides {
		raw := strings.TrimSpace(os.Getenv(ov.key))
		if raw == "" {
			continue
		}
		if err := ov.apply(&opts, raw); err != nil {
			telemetry.Warn("db.env_invalid", map[string]any{"key": ov.key, "value": raw, "error": err.Error()})
		}
	}
	return opts
}

// Connect opens a pgx-backed pool and pings it within opts.PingTimeout.
func Connect(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	opts = opts.withDefaults()

	pool, err := openDB("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool.SetMaxOpenConns(opts.MaxOpenConns)
	pool.SetMaxIdleConns(opts.MaxIdleConns)
	pool.SetConnMaxLifetime(opts.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	stats := pool.Stats()
	telemetry.Info("db.connected", map[string]any{
		"max_open":    stats.MaxOpenConnections,
		"max_idle":    opts.MaxIdleConns,
		"open":        stats.OpenConnections,
		"ping_ms":     opts.PingTimeout.Milliseconds(),
		"lifetime_ms": opts.ConnMaxLifetime.Milliseconds(),
	})
	return pool, nil
}

// GetSingleton returns the process-wide pool. Concurrent first callers share
// one connect attempt; a failed attempt is retried by the next caller.
func GetSingleton(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if pool := sharedPool(); pool != nil {
		telemetry.Debug("db.singleton_reuse", nil)
		return pool, nil
	}
	v, err, _ := connectGroup.Do("pool", func() (any, error) {
		if pool := sharedPool(); pool != nil {
			return pool, nil
		}
		pool, err := Connect(ctx, databaseURL, opts)
		if err != nil {
			return nil, err
		}
		shared.mu.Lock()
		shared.db = pool
		shared.mu.Unlock()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.DB), nil
}

func sharedPool() *sql.DB {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	return shared.db
}
