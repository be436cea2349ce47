package safe

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// DefaultMaxFileSize is the default maximum file size for safe file operations (1MB).
const DefaultMaxFileSize = 1 << 20

// FileOptions configures the guarded file helpers.
type FileOptions struct {
	// MaxSize is the maximum allowed file size in bytes. Zero means DefaultMaxFileSize.
	MaxSize int64
	// DestPerm is the permission mode for a destination file. Zero means 0600.
	DestPerm os.FileMode
	// AllowSymlinks allows following a symlink source. Default is false: files written
	// by a profiled process live in a filesystem we do not control.
	AllowSymlinks bool
}

func (o *FileOptions) maxSize() int64 {
	if o == nil || o.MaxSize == 0 {
		return DefaultMaxFileSize
	}
	return o.MaxSize
}

// statRegular validates that path is a regular file within the size limit.
func statRegular(path string, opts *FileOptions) (string, error) {
	cleanPath := filepath.Clean(path)

	info, err := os.Lstat(cleanPath)
	if err != nil {
		return "", err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if opts == nil || !opts.AllowSymlinks {
			return "", fmt.Errorf("file %q is a symlink, which is not allowed for security reasons", path)
		}
		info, err = os.Stat(cleanPath)
		if err != nil {
			return "", err
		}
	}

	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("path %q is not a regular file", path)
	}

	if info.Size() > opts.maxSize() {
		return "", fmt.Errorf("file %q exceeds maximum allowed size of %d bytes", path, opts.maxSize())
	}

	return cleanPath, nil
}

// CopyFile copies a regular file from src to dst, creating or truncating dst.
func CopyFile(src, dst string, opts *FileOptions) error {
	cleanSrc, err := statRegular(src, opts)
	if err != nil {
		return err
	}
	destPerm := os.FileMode(0o600)
	if opts != nil && opts.DestPerm != 0 {
		destPerm = opts.DestPerm
	}

	srcFile, err := os.Open(cleanSrc)
	if err != nil {
		return err
	}
	defer func() { _ = srcFile.Close() }()

	// #nosec G304 - destination is derived from our own storage directory.
	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, destPerm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return err
	}
	if err := dstFile.Close(); err != nil {
		return err
	}
	// OpenFile is subject to umask; the agent library must be readable by the target JVM user.
	return os.Chmod(dst, destPerm)
}

// ReadFile reads a regular file within the size limit, rejecting symlinks by default.
func ReadFile(path string, opts *FileOptions) ([]byte, error) {
	cleanPath, err := statRegular(path, opts)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(cleanPath)
}

// ReadFSFile reads name from fsys, refusing non-regular files and files above maxSize.
// Symlinks inside fsys are not followed.
func ReadFSFile(fsys fs.FS, name string, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	info, err := fs.Lstat(fsys, name)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path %q is not a regular file", name)
	}
	if info.Size() > maxSize {
		return nil, fmt.Errorf("file %q exceeds maximum allowed size of %d bytes", name, maxSize)
	}
	return fs.ReadFile(fsys, name)
}

// Close closes gracefully a Closer interface, handling and logging the error.
func Close(c io.Closer, logger zerolog.Logger, msg string) {
	if err := c.Close(); err != nil {
		logger.Error().Err(err).Msg(msg)
	}
}

// RemovePath removes a file, ignoring a missing one and logging other failures.
func RemovePath(path string, logger zerolog.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to remove file")
	}
}
