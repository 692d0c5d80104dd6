// Package state persists the dashboard's reconciled counters and weekly
// results as small JSON documents, and owns the in-memory containers that
// guard them.
package state

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/camarigor/minerdash/internal/jsonx"
	"github.com/camarigor/minerdash/internal/metrics"
)

// Kind names one independently persisted record.
type Kind string

const (
	KindBlocks        Kind = "blocks"
	KindWeeklyCurrent Kind = "weekly_current"
	KindWeeklyPrior   Kind = "weekly_best"
	KindMinerOfWeek   Kind = "miner_of_week"
)

// Store reads and writes records under a single directory. Every kind has
// its own file plus a .bak sibling holding the previous good copy.
type Store struct {
	dir string
}

// NewStore creates the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the primary file for kind.
func (s *Store) Path(kind Kind) string {
	return filepath.Join(s.dir, string(kind)+".json")
}

func (s *Store) backupPath(kind Kind) string {
	return s.Path(kind) + ".bak"
}

// Save writes v as the new content of kind. The current file is copied to
// .bak first, then a synced temp file is renamed over the target so a crash
// never leaves a half-written primary.
func (s *Store) Save(kind Kind, v any) error {
	data, err := jsonx.MarshalIndent(v, "", "  ")
	if err != nil {
		metrics.StateSaveErrors.WithLabelValues(string(kind)).Inc()
		return fmt.Errorf("encode %s: %w", kind, err)
	}

	path := s.Path(kind)
	if err := copyFile(path, s.backupPath(kind)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("State backup of %s failed: %v", kind, err)
	}

	if err := writeFileAtomically(path, data); err != nil {
		metrics.StateSaveErrors.WithLabelValues(string(kind)).Inc()
		return fmt.Errorf("write %s: %w", kind, err)
	}
	return nil
}

// Load hands the primary file to parse, then the backup. It reports false
// when neither could be read and parsed; the caller seeds its own defaults.
func (s *Store) Load(kind Kind, parse func([]byte) error) bool {
	for _, path := range []string{s.Path(kind), s.backupPath(kind)} {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Printf("State read %s failed: %v", path, err)
			}
			continue
		}
		if err := parse(data); err != nil {
			log.Printf("State file %s is unreadable, trying fallback: %v", path, err)
			continue
		}
		return true
	}
	return false
}

func writeFileAtomically(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
