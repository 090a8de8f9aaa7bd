package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver     string `yaml:"driver"`
	URL        string `yaml:"url"`
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Name       string `yaml:"name"`
	SQLitePath string `yaml:"sqlite_path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store is the job store. All shared mutable state of the system lives behind it.
type Store struct {
	db     *sqlx.DB
	driver string
	log    zerolog.Logger
}

// Open connects to the configured database and makes sure the schema exists.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch cfg.Driver {
	case DriverPostgres:
		db, err = connectPostgres(ctx, cfg, log)
	case DriverSQLite, "":
		db, err = connectSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("database: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, driver: db.DriverName(), log: log.With().Str("component", "store").Logger()}
	if err := s.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func postgresDSN(cfg Config) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + cfg.Port,
		Path:     "/" + cfg.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// connectPostgres handles the retry logic and pool tuning.
func connectPostgres(ctx context.Context, cfg Config, log zerolog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open(DriverPostgres, postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("database: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	for i := 0; i < 5; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			log.Info().Str("host", cfg.Host).Msg("connected to postgres")
			return db, nil
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("waiting for postgres")
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	_ = db.Close()
	return nil, fmt.Errorf("database: could not connect to postgres after retries: %w", err)
}

func connectSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	if path == "" {
		path = "data/scheduler.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("database: create directory %s: %w", dir, err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_time_format", "sqlite")

	db, err := sqlx.Open(DriverSQLite, "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("database: open sqlite %s: %w", path, err)
	}
	// SQLite serialises writers; one connection keeps transactions honest.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: ping sqlite: %w", err)
	}
	return db, nil
}

// ConnectRedis handles the redis connection used for run locks.
func ConnectRedis(ctx context.Context, cfg RedisConfig, log zerolog.Logger) (*redis.Client, error) {
	host, port := cfg.Host, cfg.Port
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     host + ":" + port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("database: cannot connect to redis at %s:%s: %w", host, port, err)
	}
	log.Info().Str("addr", host+":"+port).Msg("connected to redis")
	return rdb, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Driver() string { return s.driver }

// rebind converts ? placeholders to the driver's bindvar style.
func (s *Store) rebind(q string) string { return s.db.Rebind(q) }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// now returns the store's notion of the current time. Postgres keeps
// microseconds, so sqlite rows are truncated the same way.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
