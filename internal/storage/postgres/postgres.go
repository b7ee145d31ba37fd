package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/interfaces"
	"github.com/chenyuanqi/ios-DeepSeek/internal/storage/models"
)

// Persister хранит диалоги в PostgreSQL документами (JSONB),
// по одной строке на диалог, с сохранением порядка недавности.
type Persister struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(databaseURL string, logger *zap.Logger) (*Persister, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Persister{
		db:     db,
		logger: logger.With(zap.String("component", "postgres_persister")),
	}, nil
}

func (p *Persister) Close() error {
	return p.db.Close()
}

// Migrate создает схему хранения
func (p *Persister) Migrate(ctx context.Context) error {
	return runMigrations(ctx, p.db, p.logger, []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			position   INTEGER NOT NULL,
			data       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_position ON conversations(position)`,
	})
}

func (p *Persister) Load(ctx context.Context) ([]models.Conversation, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT data FROM conversations ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}

		var conv models.Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	p.logger.Debug("Conversations loaded", zap.Int("count", len(conversations)))
	return conversations, nil
}

// Save атомарно заменяет сохраненное состояние переданным списком
func (p *Persister) Save(ctx context.Context, conversations []models.Conversation) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("failed to clear conversations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO conversations (id, position, data, updated_at) VALUES ($1, $2, $3, now())`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, conv := range conversations {
		data, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation %s: %w", conv.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, conv.ID, i, data); err != nil {
			return fmt.Errorf("failed to insert conversation %s: %w", conv.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	p.logger.Debug("Conversations saved", zap.Int("count", len(conversations)))
	return nil
}

// Verify interface implementation
var _ interfaces.Persister = (*Persister)(nil)
