// Package postgres хранит заказы, инвентарь и служебные таблицы сервиса
// в PostgreSQL. Репозитории работают через database/sql поверх драйвера pgx.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pingTimeout = 5 * time.Second

// Параметры пула подобраны под один экземпляр сервиса: idle-соединения
// держим наравне с открытыми, чтобы всплеск заказов не платил за reconnect.
const (
	poolMaxOpen     = 25
	poolMaxIdle     = 25
	poolMaxLifetime = 30 * time.Minute
	poolMaxIdleTime = 5 * time.Minute
)

// Store владеет подключением к PostgreSQL; репозитории делят один пул.
type Store struct {
	db *sql.DB
}

// Open подключается к базе и сразу проверяет её доступность:
// сервис не должен подняться с мёртвым DSN.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(poolMaxOpen)
	db.SetMaxIdleConns(poolMaxIdle)
	db.SetConnMaxLifetime(poolMaxLifetime)
	db.SetConnMaxIdleTime(poolMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// DB отдаёт пул для низкоуровневых запросов.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет живость подключения; используется readiness-эндпоинтом.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close закрывает пул соединений.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// opContext ограничивает одиночную операцию репозитория общим таймаутом,
// чтобы зависший запрос не держал соединение из пула бесконечно.
func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}
