// Package filelock persists whole JSON documents with snapshot-on-write
// semantics: every save rewrites the document atomically while holding a
// cross-process flock on "<path>.lock".
package filelock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Document is one JSON file that is always read and written whole.
// Saves hold an exclusive lock, loads a shared one.
type Document struct {
	path string
	lock *flock.Flock
}

// Open returns the document at path. Nothing touches the disk until Load or Save.
func Open(path string) *Document {
	return &Document{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the document file path.
func (d *Document) Path() string {
	return d.path
}

// Save snapshots v as indented JSON.
func (d *Document) Save(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(d.path), err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", d.path, err)
	}
	if err := d.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", d.path, err)
	}
	defer d.lock.Unlock()

	return writeAtomic(d.path, data)
}

// Load reads the document into v. A missing document leaves v untouched
// and reports found=false; an empty one is found but decodes nothing.
func (d *Document) Load(v any) (found bool, err error) {
	if _, err := os.Stat(d.path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := d.lock.RLock(); err != nil {
		return false, fmt.Errorf("shared lock %s: %w", d.path, err)
	}
	defer d.lock.Unlock()

	data, err := os.ReadFile(d.path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", d.path, err)
	}
	if len(data) == 0 {
		return true, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("parse %s: %w", d.path, err)
	}
	return true, nil
}

// SaveJSON snapshots v to path.
func SaveJSON(path string, v any) error {
	return Open(path).Save(v)
}

// LoadJSON reads path into v.
func LoadJSON(path string, v any) (bool, error) {
	return Open(path).Load(v)
}

// writeAtomic replaces path through a synced temp file and a rename in the
// same directory, so readers see either the old or the new snapshot.
func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
