package storage

import (
	"sync"

	"newswatch/internal/types"
)

// IndexState holds the in-memory TickerTimestampIndex shared by all backends.
type IndexState struct {
	mu  sync.RWMutex
	idx types.TimestampIndex
}

func NewIndexState() *IndexState {
	return &IndexState{idx: make(types.TimestampIndex)}
}

func (s *IndexState) Advance(ticker string, ts float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Advance(ticker, ts)
}

func (s *IndexState) Snapshot() types.TimestampIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Clone()
}

func (s *IndexState) Replace(idx types.TimestampIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx == nil {
		idx = make(types.TimestampIndex)
	}
	s.idx = idx.Clone()
}

func (s *IndexState) Reset() {
	s.Replace(nil)
}
