package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"ardu-agent/internal/core/domain"
	"ardu-agent/internal/core/ports"
)

// JSONStorage keeps everything in a single JSON file. It is the default when
// no database is configured.
type JSONStorage struct {
	FilePath string
	mu       sync.RWMutex
	Data     StorageData
}

type StorageData struct {
	Session  domain.Session      `json:"session"`
	Snapshot []domain.Post       `json:"snapshot"`
	Reviewed map[string][]string `json:"reviewed"`
}

func NewJSONStorage(filePath string) (*JSONStorage, error) {
	s := &JSONStorage{
		FilePath: filePath,
		Data: StorageData{
			Reviewed: make(map[string][]string),
		},
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := s.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if s.Data.Reviewed == nil {
		s.Data.Reviewed = make(map[string][]string)
	}
	return s, nil
}

var _ ports.Storage = (*JSONStorage)(nil)

func (s *JSONStorage) loadFromFile() error {
	file, err := os.ReadFile(s.FilePath)
	if err != nil {
		return err
	}
	return json.Unmarshal(file, &s.Data)
}

// saveToFile writes through a temp file so a crash never leaves half a document.
func (s *JSONStorage) saveToFile() error {
	data, err := json.MarshalIndent(s.Data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.FilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.FilePath)
}

func (s *JSONStorage) SaveSession(ctx context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Data.Session = sess
	return s.saveToFile()
}

func (s *JSONStorage) LoadSession(ctx context.Context) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Data.Session, nil
}

func (s *JSONStorage) ClearSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Data.Session = domain.Session{}
	return s.saveToFile()
}

func (s *JSONStorage) SaveSnapshot(ctx context.Context, posts []domain.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Data.Snapshot = posts
	return s.saveToFile()
}

func (s *JSONStorage) LoadSnapshot(ctx context.Context) ([]domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.Data.Snapshot), nil
}

func (s *JSONStorage) IsReviewed(ctx context.Context, kind, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.Data.Reviewed[kind], id), nil
}

func (s *JSONStorage) MarkReviewed(ctx context.Context, kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.Data.Reviewed[kind], id) {
		return nil
	}
	s.Data.Reviewed[kind] = append(s.Data.Reviewed[kind], id)
	return s.saveToFile()
}
