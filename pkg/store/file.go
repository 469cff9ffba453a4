package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lucid-vigil/threatcluster/pkg/fcm"
)

const (
	modelSuffix = "_model.json"
	logFile     = "training_log.json"
)

// FileStore keeps one JSON file per model plus a shared training log in a
// directory.
type FileStore struct {
	dir    string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model directory: %w", err)
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With().Str("component", "file_store").Logger(),
	}, nil
}

// Dir is the directory models are written to.
func (s *FileStore) Dir() string { return s.dir }

// ModelPath is the file a model named name is stored in.
func (s *FileStore) ModelPath(name string) string {
	return filepath.Join(s.dir, name+modelSuffix)
}

// ModelName extracts the model name from a path produced by ModelPath.
func ModelName(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, modelSuffix) {
		return "", false
	}
	return strings.TrimSuffix(base, modelSuffix), true
}

func (s *FileStore) Save(_ context.Context, name string, m *fcm.Model, rec TrainingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode model %s: %w", name, err)
	}
	path := s.ModelPath(name)
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write model %s: %w", name, err)
	}

	records, err := s.readLog()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Training log unreadable, starting a new one")
		records = nil
	}
	rec.Model = name
	records = append(records, rec)
	if len(records) > historyLimit {
		records = records[len(records)-historyLimit:]
	}
	logData, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode training log: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, logFile), logData); err != nil {
		return fmt.Errorf("write training log: %w", err)
	}

	s.logger.Info().Str("model", name).Str("path", path).Str("run_id", rec.RunID).Msg("Model saved")
	return nil
}

func (s *FileStore) Load(_ context.Context, name string) (*fcm.Model, error) {
	data, err := os.ReadFile(s.ModelPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m fcm.Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", name, err)
	}
	return &m, nil
}

func (s *FileStore) History(_ context.Context, name string) ([]TrainingRecord, error) {
	s.mu.Lock()
	records, err := s.readLog()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]TrainingRecord, 0, len(records))
	for _, r := range records {
		if r.Model == name {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *FileStore) Latest(ctx context.Context, name string) (*TrainingRecord, error) {
	records, err := s.History(ctx, name)
	if err != nil {
		return nil, err
	}
	return latest(records)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) readLog() ([]TrainingRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, logFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []TrainingRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode training log: %w", err)
	}
	return records, nil
}

// writeFileAtomic writes through a temporary file in the same directory so
// readers never observe a partial model.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
