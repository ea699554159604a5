package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"newswatch/internal/storage"
	"newswatch/internal/types"
)

const TypeSQLite = "sqlite"

//go:embed migrations/*.sql
var migrations embed.FS

func init() {
	storage.RegisterFactory(TypeSQLite, func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return New(ctx, cfg)
	})
}

// Store keeps items in one table keyed by (ticker, id) and the ticker index
// in a second table that is rewritten in full on every save.
type Store struct {
	db     *sql.DB
	path   string
	index  *storage.IndexState
	logger *slog.Logger
}

func New(ctx context.Context, cfg storage.Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage: database path is required")
	}

	logger := cfg.GetLogger()
	logger.Info("Initializing storage", "type", TypeSQLite, "path", cfg.Path)

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		path:   cfg.Path,
		index:  storage.NewIndexState(),
		logger: logger,
	}

	if _, err := s.LoadIndex(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Storage initialized successfully")
	return s, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (s *Store) Exists(ctx context.Context, item *types.NewsItem) (bool, error) {
	query := `SELECT COUNT(*) FROM news_items WHERE ticker = ? AND id = ?`

	var count int
	if err := s.db.QueryRowContext(ctx, query, item.Ticker, item.ID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}

	return count > 0, nil
}

func (s *Store) Persist(ctx context.Context, item *types.NewsItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	query := `
		INSERT INTO news_items (ticker, id, partition_date, datetime, headline, summary, url, source, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, id) DO NOTHING
	`

	_, err = s.db.ExecContext(ctx, query, item.Ticker, item.ID, item.Date(), item.Datetime,
		item.Headline, item.Summary, item.URL, item.Source, string(payload))
	if err != nil {
		return fmt.Errorf("failed to store item: %w", err)
	}

	s.AdvanceTimestamp(item.Ticker, item.Datetime)
	if err := s.SaveIndex(ctx); err != nil {
		s.logger.Error("Error saving ticker index", "ticker", item.Ticker, "error", err)
	}

	return nil
}

func (s *Store) AdvanceTimestamp(ticker string, ts float64) {
	s.index.Advance(ticker, ts)
}

func (s *Store) LoadIndex(ctx context.Context) (types.TimestampIndex, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ticker, datetime FROM ticker_timestamps`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ticker index: %w", err)
	}
	defer rows.Close()

	idx := make(types.TimestampIndex)
	for rows.Next() {
		var ticker string
		var ts float64
		if err := rows.Scan(&ticker, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan ticker index: %w", err)
		}
		idx[ticker] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	s.index.Replace(idx)
	return s.index.Snapshot(), nil
}

func (s *Store) SaveIndex(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ticker_timestamps`); err != nil {
		return fmt.Errorf("failed to clear ticker index: %w", err)
	}

	for ticker, ts := range s.index.Snapshot() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO ticker_timestamps (ticker, datetime) VALUES (?, ?)`, ticker, ts); err != nil {
			return fmt.Errorf("failed to write ticker index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ticker index: %w", err)
	}
	return nil
}

func (s *Store) Index() types.TimestampIndex {
	return s.index.Snapshot()
}

func (s *Store) Wipe(ctx context.Context) error {
	s.logger.Warn("Wiping storage", "type", TypeSQLite, "path", s.path)

	result, err := s.db.ExecContext(ctx, `DELETE FROM news_items`)
	if err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil {
		s.logger.Info("Deleted stored items", "count", rows)
	}

	s.index.Reset()
	return s.SaveIndex(ctx)
}

func (s *Store) Close() error {
	s.logger.Info("Closing database connection", "path", s.path)
	return s.db.Close()
}
