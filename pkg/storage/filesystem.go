package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// LocalStorage persists objects on disk under a base directory, mirroring logical paths.
type LocalStorage struct {
	baseDir string
	tempDir string
}

// NewLocalStorage ensures the base and temp directories exist and returns a handle.
func NewLocalStorage(baseDir, tempDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./uploads"
	}
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "erp-bacs")
	}
	for _, dir := range []string{baseDir, tempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory %s: %w", dir, err)
		}
	}
	return &LocalStorage{baseDir: baseDir, tempDir: tempDir}, nil
}

// Backend identifies the storage implementation.
func (s *LocalStorage) Backend() string {
	return BackendLocal
}

// Upload writes the given bytes at the logical path.
func (s *LocalStorage) Upload(ctx context.Context, data []byte, logicalPath, contentType string) error {
	return s.UploadStream(ctx, bytes.NewReader(data), int64(len(data)), logicalPath, contentType)
}

// UploadStream copies from reader into the file backing the logical path.
func (s *LocalStorage) UploadStream(ctx context.Context, r io.Reader, size int64, logicalPath, contentType string) error {
	target, err := s.resolve(logicalPath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("prepare storage directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("create storage file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write storage stream: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close storage file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("commit storage file: %w", err)
	}
	return nil
}

// Download reads the whole object.
func (s *LocalStorage) Download(ctx context.Context, logicalPath string) ([]byte, error) {
	file, err := s.Open(logicalPath)
	if err != nil {
		return nil, err
	}
	defer file.Close() //nolint:errcheck
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read storage file: %w", err)
	}
	return data, nil
}

// Open returns a read-only handle for the stored file.
func (s *LocalStorage) Open(logicalPath string) (*os.File, error) {
	target, err := s.resolve(logicalPath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open storage file: %w", err)
	}
	return file, nil
}

// Exists reports whether a regular file backs the logical path.
func (s *LocalStorage) Exists(ctx context.Context, logicalPath string) (bool, error) {
	target, err := s.resolve(logicalPath)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat storage file: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// Delete removes a stored file if present.
func (s *LocalStorage) Delete(ctx context.Context, logicalPath string) error {
	target, err := s.resolve(logicalPath)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete storage file: %w", err)
	}
	return nil
}

// DownloadToTemp copies the object into the temp directory and returns the local path.
// Empty objects are treated as missing.
func (s *LocalStorage) DownloadToTemp(ctx context.Context, logicalPath string) (string, error) {
	data, err := s.Download(ctx, logicalPath)
	if err != nil {
		return "", err
	}
	return writeTemp(s.tempDir, logicalPath, data)
}

// PresignedURL is not available for the filesystem backend; callers serve files through the API.
func (s *LocalStorage) PresignedURL(ctx context.Context, logicalPath string, ttl time.Duration) (string, error) {
	return "", fmt.Errorf("presigned urls not supported by %s backend", BackendLocal)
}

// TempDir exposes the directory used by DownloadToTemp.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// CleanupOlderThan removes files older than the provided TTL below dir and returns deleted names.
func CleanupOlderThan(dir string, ttl time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-ttl)
	deleted := make([]string, 0)
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
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
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			rel = p
		}
		deleted = append(deleted, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup %s: %w", dir, err)
	}
	return deleted, nil
}

func (s *LocalStorage) resolve(logicalPath string) (string, error) {
	cleaned, err := CleanPath(logicalPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(cleaned)), nil
}

func writeTemp(dir, logicalPath string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrNotFound
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("prepare temp directory: %w", err)
	}
	name := filepath.Join(dir, uuid.NewString()+path.Ext(logicalPath))
	if err := os.WriteFile(name, data, 0o600); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	return name, nil
}
