package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/scarfbench/scarf/internal/errs"
)

const MetadataFile = "metadata.json"

func MetadataPath(instanceRoot string) string {
	return filepath.Join(instanceRoot, MetadataFile)
}

// WriteMetadata replaces instanceRoot/metadata.json. The document is written
// to a temporary file and renamed into place so readers never observe a
// partial write.
func WriteMetadata(instanceRoot string, meta *Metadata) error {
	if err := meta.validate(); err != nil {
		return errs.Wrap(errs.ErrCorruptMetadata, err, "refusing to write metadata for %s", instanceRoot)
	}
	if err := os.MkdirAll(instanceRoot, 0o755); err != nil {
		return errs.IO(err, "creating instance dir")
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(instanceRoot, ".metadata-*.json")
	if err != nil {
		return errs.IO(err, "creating temp metadata file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.IO(err, "writing metadata")
	}
	if err := tmp.Close(); err != nil {
		return errs.IO(err, "writing metadata")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errs.IO(err, "writing metadata")
	}
	if err := os.Rename(tmp.Name(), MetadataPath(instanceRoot)); err != nil {
		return errs.IO(err, "replacing metadata")
	}
	return nil
}

func ReadMetadata(instanceRoot string) (*Metadata, error) {
	path := MetadataPath(instanceRoot)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.NotFoundf("no metadata at %s", path)
		}
		return nil, errs.IO(err, "reading metadata")
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errs.Wrap(errs.ErrCorruptMetadata, err, "parsing %s", path)
	}
	if err := meta.validate(); err != nil {
		return nil, errs.Wrap(errs.ErrCorruptMetadata, err, "validating %s", path)
	}
	return &meta, nil
}

// Locker serialises metadata writers per instance.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until the caller owns key and returns the release func.
func (l *Locker) Lock(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// UpdateStatus re-reads the instance metadata and moves it to next while
// holding the instance lock. A nil locker skips locking.
func UpdateStatus(locker *Locker, instanceRoot string, next Status) (*Metadata, error) {
	if locker != nil {
		unlock := locker.Lock(filepath.Clean(instanceRoot))
		defer unlock()
	}
	meta, err := ReadMetadata(instanceRoot)
	if err != nil {
		return nil, err
	}
	if !meta.Status.CanTransition(next) {
		return meta, fmt.Errorf("instance %s: illegal status transition %s -> %s", meta.EvalID, meta.Status, next)
	}
	meta.Status = next
	if err := WriteMetadata(instanceRoot, meta); err != nil {
		return nil, err
	}
	return meta, nil
}
