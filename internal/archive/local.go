package archive

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/snowtrail/snowtrail/internal/errors"
)

// LocalStorage implements ObjectStorage on the local filesystem.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a filesystem store rooted at basePath.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, errors.NewArchiveError(errors.CodeUploadFailed, "failed to create base directory", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Put writes data atomically via a temp file and rename.
func (l *LocalStorage) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	destPath := l.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return errors.NewArchiveError(errors.CodeUploadFailed, "failed to create directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".put-*")
	if err != nil {
		return errors.NewArchiveError(errors.CodeUploadFailed, "failed to create temp file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.NewArchiveError(errors.CodeUploadFailed, "failed to write object", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewArchiveError(errors.CodeUploadFailed, "failed to close object", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return errors.NewArchiveError(errors.CodeUploadFailed, "failed to commit object", err)
	}
	return nil
}

func (l *LocalStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.fullPath(key))
	if os.IsNotExist(err) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, errors.NewArchiveError(errors.CodeDownloadFailed, "failed to read object", err)
	}
	return data, nil
}

func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(l.fullPath(key)); err != nil && !os.IsNotExist(err) {
		return errors.NewArchiveError(errors.CodeUnexpected, "failed to delete object", err)
	}
	return nil
}

func (l *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var objects []string
	err := filepath.Walk(l.fullPath(prefix), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil // prefix doesn't exist, return empty list
			}
			return err
		}
		if info.IsDir() || filepath.Base(path)[0] == '.' {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		objects = append(objects, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.NewArchiveError(errors.CodeDownloadFailed, "failed to list objects", err)
	}

	sort.Strings(objects)
	return objects, nil
}

// fullPath returns the full filesystem path for an object.
func (l *LocalStorage) fullPath(key string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(key))
}
