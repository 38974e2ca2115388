// Package datastore manages the sqlite file a scraper writes its
// results to.
package datastore

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	// Filename is the scraper's data store inside its data directory.
	Filename = "data.sqlite"
	// BackupFilename holds the data store as it was before the
	// latest run started.
	BackupFilename = Filename + ".backup"
)

// Path returns the data store path inside dataPath.
func Path(dataPath string) string {
	return filepath.Join(dataPath, Filename)
}

// BackupPath returns the backup path inside dataPath.
func BackupPath(dataPath string) string {
	return filepath.Join(dataPath, BackupFilename)
}

// Backup snapshots the data store so the next run can be diffed
// against it. With no data store yet, a stale backup is removed.
func Backup(dataPath string) error {
	src, err := os.Open(Path(dataPath))
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.Remove(BackupPath(dataPath)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dataPath, BackupFilename+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), BackupPath(dataPath))
}

// Size sums the sizes of the regular files under path. A missing
// path has size zero.
func Size(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	return total, err
}
