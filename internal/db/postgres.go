package db

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-api/internal/config"
	"github.com/rajivgeraev/flippy-api/pkg/logger"
)

// pgUniqueViolation код ошибки PostgreSQL unique_violation
const pgUniqueViolation = "23505"

// PostgresStore хранилище коллекций в таблице documents.
// Писатели одной коллекции сериализуются транзакционной advisory-блокировкой.
type PostgresStore struct {
	pool    *pgxpool.Pool
	indexes indexSet
}

// NewPostgresStore создаёт пул соединений и проверяет подключение
func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	logger.Global().Info("Подключение к базе данных",
		zap.String("host", cfg.DatabaseConfig.Host),
		zap.String("database", cfg.DatabaseConfig.Name))

	// Создаем контекст с таймаутом для подключения
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка при разборе URL базы данных: %w", err)
	}

	poolConfig.MaxConns = cfg.DatabaseConfig.MaxConns
	poolConfig.MinConns = cfg.DatabaseConfig.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка при создании пула соединений: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка при проверке соединения: %w", err)
	}

	logger.Global().Info("✅ Успешное подключение к базе данных")
	return &PostgresStore{pool: pool}, nil
}

// ReadCollection возвращает снимок коллекции в порядке позиций
func (s *PostgresStore) ReadCollection(ctx context.Context, name string) ([]Document, error) {
	return readDocuments(ctx, s.pool, name)
}

// WriteCollection заменяет коллекцию целиком без advisory-блокировки
func (s *PostgresStore) WriteCollection(ctx context.Context, name string, docs []Document) error {
	if err := s.indexes.check(name, docs); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return replaceDocuments(ctx, tx, name, docs)
	})
}

// Update выполняет fn в транзакции, предварительно заблокировав коллекции
func (s *PostgresStore) Update(ctx context.Context, collections []string, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Блокировки берутся в отсортированном порядке, чтобы избежать взаимных блокировок
		for _, name := range sortedUnique(collections) {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name); err != nil {
				return fmt.Errorf("ошибка блокировки коллекции %s: %w", name, err)
			}
		}
		return fn(&pgTx{tx: tx, locked: collections, indexes: &s.indexes})
	})
}

// GenerateID возвращает уникальный идентификатор
func (s *PostgresStore) GenerateID(prefix string) string {
	return newID(prefix)
}

// RegisterUniqueIndex добавляет уникальный индекс уровня приложения
func (s *PostgresStore) RegisterUniqueIndex(idx UniqueIndex) {
	s.indexes.add(idx)
}

// Close закрывает пул соединений
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

type pgTx struct {
	tx      pgx.Tx
	locked  []string
	indexes *indexSet
}

func (t *pgTx) ReadCollection(ctx context.Context, name string) ([]Document, error) {
	return readDocuments(ctx, t.tx, name)
}

func (t *pgTx) WriteCollection(ctx context.Context, name string, docs []Document) error {
	if !slices.Contains(t.locked, name) {
		return ErrUnknownCollection
	}
	if err := t.indexes.check(name, docs); err != nil {
		return err
	}
	return replaceDocuments(ctx, t.tx, name, docs)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func readDocuments(ctx context.Context, q querier, name string) ([]Document, error) {
	rows, err := q.Query(ctx, `
		SELECT id, body
		FROM documents
		WHERE collection = $1
		ORDER BY position ASC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения коллекции %s: %w", name, err)
	}

	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Document, error) {
		var doc Document
		err := row.Scan(&doc.ID, &doc.Body)
		return doc, err
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования коллекции %s: %w", name, err)
	}
	return docs, nil
}

func replaceDocuments(ctx context.Context, tx pgx.Tx, name string, docs []Document) error {
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1`, name); err != nil {
		return fmt.Errorf("ошибка очистки коллекции %s: %w", name, err)
	}

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"documents"},
		[]string{"collection", "id", "position", "body"},
		pgx.CopyFromSlice(len(docs), func(i int) ([]any, error) {
			return []any{name, docs[i].ID, i, []byte(docs[i].Body)}, nil
		}),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.ConstraintName)
		}
		return fmt.Errorf("ошибка записи коллекции %s: %w", name, err)
	}
	return nil
}
