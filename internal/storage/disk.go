package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Usage is the on-disk footprint of the service.
type Usage struct {
	DatabaseBytes int64 `json:"databaseBytes"`
	UploadBytes   int64 `json:"uploadBytes"`
	UploadFiles   int   `json:"uploadFiles"`
}

// Total returns the combined size.
func (u Usage) Total() int64 {
	return u.DatabaseBytes + u.UploadBytes
}

// MeasureUsage sizes the SQLite database (with its WAL and shared-memory
// files) and the upload directory. Missing paths count as zero.
func MeasureUsage(dbPath, uploadDir string) (Usage, error) {
	var u Usage
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		n, err := fileSize(p)
		if err != nil {
			return Usage{}, err
		}
		u.DatabaseBytes += n
	}
	if uploadDir == "" {
		return u, nil
	}
	err := filepath.WalkDir(uploadDir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		u.UploadBytes += info.Size()
		u.UploadFiles++
		return nil
	})
	if err != nil {
		return Usage{}, err
	}
	return u, nil
}

func fileSize(path string) (int64, error) {
	if path == "" {
		return 0, nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, nil
	}
	return info.Size(), nil
}
