package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"newswatch/internal/types"
)

// FileStore keeps one {id}.json per item under root/<partition>/<partition>/.
// File presence is the dedup oracle. The ticker index lives in a single
// metadata file next to root.
type FileStore struct {
	root        string
	indexPath   string
	partition   Partition
	atomicIndex bool
	index       *IndexState
	logger      *slog.Logger
}

func NewFileStore(cfg Config) (*FileStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage: path is required")
	}

	root := filepath.Clean(cfg.Path)
	indexPath := cfg.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(filepath.Dir(root), "ticker_timestamps.json")
	}
	partition := cfg.Partition
	if partition == "" {
		partition = PartitionDateTicker
	}

	s := &FileStore{
		root:        root,
		indexPath:   indexPath,
		partition:   partition,
		atomicIndex: cfg.AtomicIndex,
		index:       NewIndexState(),
		logger:      cfg.GetLogger(),
	}

	s.logger.Info("Initializing storage", "type", TypeFilesystem, "path", root, "index", indexPath, "partition", partition)

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	if _, err := s.LoadIndex(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// ItemPath is the file that exists iff item has been processed.
func (s *FileStore) ItemPath(item *types.NewsItem) string {
	first, second := PartitionSegments(item, s.partition)
	return filepath.Join(s.root, first, second, SafeSegment(item.ID)+".json")
}

func (s *FileStore) Exists(_ context.Context, item *types.NewsItem) (bool, error) {
	_, err := os.Stat(s.ItemPath(item))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check existence: %w", err)
}

func (s *FileStore) Persist(ctx context.Context, item *types.NewsItem) error {
	path := s.ItemPath(item)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create partition directory: %w", err)
	}

	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write item: %w", err)
	}

	s.AdvanceTimestamp(item.Ticker, item.Datetime)
	if err := s.SaveIndex(ctx); err != nil {
		s.logger.Error("Error saving ticker index", "ticker", item.Ticker, "error", err)
	}

	return nil
}

func (s *FileStore) AdvanceTimestamp(ticker string, ts float64) {
	s.index.Advance(ticker, ts)
}

func (s *FileStore) LoadIndex(_ context.Context) (types.TimestampIndex, error) {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			s.index.Reset()
			return s.index.Snapshot(), nil
		}
		return nil, fmt.Errorf("failed to read ticker index: %w", err)
	}

	idx := make(types.TimestampIndex)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &idx); err != nil {
			return nil, fmt.Errorf("failed to parse ticker index: %w", err)
		}
	}

	s.index.Replace(idx)
	return s.index.Snapshot(), nil
}

func (s *FileStore) SaveIndex(_ context.Context) error {
	data, err := json.MarshalIndent(s.index.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ticker index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.indexPath), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	if !s.atomicIndex {
		if err := os.WriteFile(s.indexPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write ticker index: %w", err)
		}
		return nil
	}

	return writeFileAtomic(s.indexPath, data)
}

func (s *FileStore) Index() types.TimestampIndex {
	return s.index.Snapshot()
}

func (s *FileStore) Wipe(ctx context.Context) error {
	s.logger.Warn("Wiping storage", "path", s.root)

	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("failed to remove storage directory: %w", err)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("failed to recreate storage directory: %w", err)
	}

	s.index.Reset()
	return s.SaveIndex(ctx)
}

func (s *FileStore) Close() error {
	return nil
}

// writeFileAtomic writes to a temp file in the same directory and renames it
// over path, so readers see either the old or the new index.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp index: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp index: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace ticker index: %w", err)
	}
	return nil
}
