package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-api/pkg/logger"
)

// migrations схема документного хранилища, применяется по порядку
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		position   INTEGER NOT NULL,
		body       JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_collection_position_idx
		ON documents (collection, position)`,
	// Не более одного ожидающего обмена на упорядоченную пару инициатор→получатель
	`CREATE UNIQUE INDEX IF NOT EXISTS exchanges_pending_pair_uidx
		ON documents ((body->>'initiator_id'), (body->>'recipient_id'))
		WHERE collection = 'exchanges' AND body->>'status' = 'pending'`,
	`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate применяет схему хранилища
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for i, stmt := range migrations {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("ошибка миграции %d: %w", i+1, err)
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO schema_migrations (version) VALUES ($1)
			ON CONFLICT (version) DO NOTHING
		`, len(migrations))
		if err != nil {
			return fmt.Errorf("ошибка записи версии схемы: %w", err)
		}
		logger.Global().Info("✅ Миграции применены", zap.Int("version", len(migrations)))
		return nil
	})
}
