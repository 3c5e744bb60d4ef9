package executor

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Snapshot stores pre-apply copies of files the executor is about to
// overwrite so a failed run (or a later `converge rollback`) can restore
// them. Files that did not exist before the run are deleted on restore.
// Safe for concurrent Saves from parallel workers.
type Snapshot struct {
	base string
	mu   sync.Mutex
}

// NewSnapshot anchors the snapshot under <stateDir>/<spec>/rollback.
func NewSnapshot(stateDir, specName string) *Snapshot {
	return &Snapshot{base: filepath.Join(stateDir, specName, "rollback")}
}

func (s *Snapshot) filesDir() string    { return filepath.Join(s.base, "files") }
func (s *Snapshot) newFilesPath() string { return filepath.Join(s.base, "new-files.json") }

// Begin discards any previous snapshot and starts a fresh one.
func (s *Snapshot) Begin() error {
	os.RemoveAll(s.base)
	return os.MkdirAll(s.filesDir(), 0755)
}

// Available reports whether a snapshot exists to restore from.
func (s *Snapshot) Available() bool {
	_, err := os.Stat(s.base)
	return err == nil
}

// Save records the current on-disk state of dest. Missing files are
// remembered for deletion on restore.
func (s *Snapshot) Save(dest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return s.recordNew(dest)
	}
	backupPath := s.backupPath(dest)
	if err := os.MkdirAll(filepath.Dir(backupPath), 0755); err != nil {
		return fmt.Errorf("snapshot mkdir: %w", err)
	}
	if err := copyFile(dest, backupPath); err != nil {
		return fmt.Errorf("snapshot %s: %w", dest, err)
	}
	return nil
}

// Restore puts one path back to its pre-run state.
func (s *Snapshot) Restore(dest string) error {
	for _, f := range s.newFiles() {
		if f == dest {
			if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
				return err
			}
			return nil
		}
	}
	backupPath := s.backupPath(dest)
	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		return fmt.Errorf("no snapshot copy of %s", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return copyFile(backupPath, dest)
}

// RestoreAll undoes every file the snapshot covers and removes the
// snapshot. Used by the standalone rollback command.
func (s *Snapshot) RestoreAll(log zerolog.Logger) error {
	if !s.Available() {
		return fmt.Errorf("no rollback snapshot available")
	}

	err := filepath.Walk(s.filesDir(), func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(s.filesDir(), path)
		dest := "/" + rel
		log.Info().Str("path", dest).Msg("restoring")
		if mkErr := os.MkdirAll(filepath.Dir(dest), 0755); mkErr != nil {
			return mkErr
		}
		return copyFile(path, dest)
	})
	if err != nil {
		return fmt.Errorf("restoring files: %w", err)
	}

	for _, f := range s.newFiles() {
		log.Info().Str("path", f).Msg("removing file created by last run")
		os.Remove(f)
	}

	return os.RemoveAll(s.base)
}

func (s *Snapshot) backupPath(dest string) string {
	return filepath.Join(s.filesDir(), strings.TrimPrefix(dest, "/"))
}

func (s *Snapshot) recordNew(dest string) error {
	files := s.newFiles()
	for _, f := range files {
		if f == dest {
			return nil
		}
	}
	files = append(files, dest)
	data, _ := json.Marshal(files)
	return os.WriteFile(s.newFilesPath(), data, 0644)
}

func (s *Snapshot) newFiles() []string {
	raw, _ := os.ReadFile(s.newFilesPath())
	var files []string
	if len(raw) > 0 {
		json.Unmarshal(raw, &files)
	}
	return files
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
