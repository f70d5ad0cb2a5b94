package auditlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FileStore keeps records as pipe-delimited lines in a flat text file.
type FileStore struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	logger *zap.Logger
}

func OpenFile(path string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &FileStore{path: path, f: f, logger: logger}, nil
}

// Append writes the whole line with a single Write so concurrent appends
// never interleave.
func (s *FileStore) Append(_ context.Context, r Record) error {
	line := r.Line()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return errors.New("log store is closed")
	}
	if _, err := s.f.WriteString(line); err != nil {
		return fmt.Errorf("append log line: %w", err)
	}
	return nil
}

func (s *FileStore) ReadAll(ctx context.Context) ([]Record, error) {
	records, err := s.scan(ctx, nil)
	if err != nil {
		return nil, err
	}
	reverse(records)
	return records, nil
}

func (s *FileStore) FindByImageLink(ctx context.Context, link string) ([]Record, error) {
	return s.scan(ctx, func(r Record) bool { return r.ImageLink == link })
}

func (s *FileStore) scan(ctx context.Context, keep func(Record) bool) ([]Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	records := []Record{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		r, err := ParseLine(line)
		if err != nil {
			s.logger.Warn("skipping malformed log line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if keep == nil || keep(r) {
			records = append(records, r)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	return records, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
