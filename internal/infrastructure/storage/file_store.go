package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vitos/volume_anomaly_bot/internal/domain"
)

const (
	watchlistFile = "watchlist.json"
	positionsFile = "positions.json"
	ledgerFile    = "ledger.json"
	leadsFile     = "leads.json"
)

// FileStore keeps one JSON document per collection in a directory. Writes go to a
// temp file first and are renamed into place, so a crash leaves the previous snapshot.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) read(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) SaveWatchlist(ctx context.Context, pending []domain.PendingAnomaly) error {
	return s.write(watchlistFile, utcPending(pending))
}

func (s *FileStore) SavePositions(ctx context.Context, positions []domain.Position) error {
	return s.write(positionsFile, utcPositions(positions))
}

func (s *FileStore) SaveLedger(ctx context.Context, trades []domain.ClosedTrade) error {
	return s.write(ledgerFile, utcLedger(trades))
}

func (s *FileStore) SaveLeads(ctx context.Context, leads []domain.LeadOutcome) error {
	return s.write(leadsFile, utcLeads(leads))
}

func (s *FileStore) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{}
	if err := s.read(watchlistFile, &snap.Watchlist); err != nil {
		return nil, err
	}
	if err := s.read(positionsFile, &snap.Positions); err != nil {
		return nil, err
	}
	if err := s.read(ledgerFile, &snap.Ledger); err != nil {
		return nil, err
	}
	if err := s.read(leadsFile, &snap.Leads); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *FileStore) Close() error { return nil }
