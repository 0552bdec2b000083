// Package postgres хранит заказы, outbox и idempotency-ключи в PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // регистрирует драйвер "pgx"
	log "github.com/sirupsen/logrus"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolConfig задаёт параметры пула database/sql.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig возвращает параметры пула по умолчанию.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
}

// Option настраивает Store.
type Option func(*Store)

// WithLogger задаёт logger для миграций.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPool задаёт параметры пула соединений.
func WithPool(pool PoolConfig) Option {
	return func(s *Store) {
		s.pool = pool
	}
}

// Store оборачивает пул подключений к PostgreSQL.
type Store struct {
	db     *sql.DB
	pool   PoolConfig
	logger *log.Entry
}

// Open открывает пул через pgx stdlib и проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	store := NewStore(db, opts...)
	store.applyPool()

	if err := store.Check(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// NewStore оборачивает уже открытый *sql.DB.
func NewStore(db *sql.DB, opts ...Option) *Store {
	store := &Store{
		db:     db,
		pool:   DefaultPoolConfig(),
		logger: log.WithField("component", "postgres"),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) applyPool() {
	if s.pool.MaxOpenConns > 0 {
		s.db.SetMaxOpenConns(s.pool.MaxOpenConns)
	}
	if s.pool.MaxIdleConns > 0 {
		s.db.SetMaxIdleConns(s.pool.MaxIdleConns)
	}
	if s.pool.ConnMaxLifetime > 0 {
		s.db.SetConnMaxLifetime(s.pool.ConnMaxLifetime)
	}
	if s.pool.ConnMaxIdleTime > 0 {
		s.db.SetConnMaxIdleTime(s.pool.ConnMaxIdleTime)
	}
}

// DB возвращает пул для репозиториев.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Check пингует базу; используется health-проверкой хранилища.
func (s *Store) Check(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close закрывает пул.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
