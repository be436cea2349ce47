package asyncprof

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/DanielAmmar/gprofiler/internal/agent/discovery"
	"github.com/DanielAmmar/gprofiler/internal/safe"
)

// LibraryName is the file name of the agent library inside a process root.
const LibraryName = "libasyncProfiler.so"

// maxLibrarySize bounds the agent library copy.
const maxLibrarySize = 64 << 20

// LibraryInstaller places the agent library inside process roots.
//
// The library lands in <StorageDir>/async-profiler-<content hash>/, so every
// session against a process loads it from the same path and a JVM maps it at most
// once per library build.
type LibraryInstaller struct {
	GlibcPath  string
	MuslPath   string
	StorageDir string
	logger     zerolog.Logger

	mu     sync.Mutex
	hashes map[string]string
}

// NewLibraryInstaller creates an installer for the given library builds.
func NewLibraryInstaller(glibcPath, muslPath, storageDir string, logger zerolog.Logger) *LibraryInstaller {
	if storageDir == "" {
		storageDir = DefaultStorageDir
	}
	return &LibraryInstaller{
		GlibcPath:  glibcPath,
		MuslPath:   muslPath,
		StorageDir: storageDir,
		logger:     logger.With().Str("component", "installer").Logger(),
		hashes:     make(map[string]string),
	}
}

// Source returns the host path of the library build matching libc.
func (i *LibraryInstaller) Source(libc discovery.LibC) (string, error) {
	src := i.GlibcPath
	if libc == discovery.LibCMusl {
		src = i.MuslPath
	}
	if src == "" {
		return "", fmt.Errorf("no async-profiler library configured for %s", libc)
	}
	return src, nil
}

// Install copies the library matching libc into the process root at hostRoot
// unless it is already there, and returns its path as seen by the process.
func (i *LibraryInstaller) Install(hostRoot string, libc discovery.LibC) (string, error) {
	src, err := i.Source(libc)
	if err != nil {
		return "", err
	}
	hash, err := i.hash(src)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", src, err)
	}

	processDir := path.Join(i.StorageDir, "async-profiler-"+hash)
	processPath := path.Join(processDir, LibraryName)
	hostDir := filepath.Join(hostRoot, filepath.FromSlash(processDir))
	hostPath := filepath.Join(hostDir, LibraryName)

	srcInfo, err := os.Stat(src)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(hostPath); err == nil && info.Size() == srcInfo.Size() {
		return processPath, nil
	}

	if err := os.MkdirAll(hostDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create library directory: %w", err)
	}
	// #nosec G302 - the target JVM, possibly another user, must traverse this directory.
	if err := os.Chmod(hostDir, 0o755); err != nil {
		return "", err
	}

	// Copy to a temporary name and rename, so a concurrent session never maps a
	// partial library.
	tmp := hostPath + ".tmp-" + hash
	if err := safe.CopyFile(src, tmp, &safe.FileOptions{MaxSize: maxLibrarySize, DestPerm: 0o755}); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to copy async-profiler library: %w", err)
	}
	if err := os.Rename(tmp, hostPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to install async-profiler library: %w", err)
	}

	i.logger.Debug().Str("path", processPath).Str("libc", string(libc)).Msg("Installed async-profiler library")
	return processPath, nil
}

func (i *LibraryInstaller) hash(src string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if h, ok := i.hashes[src]; ok {
		return h, nil
	}

	f, err := os.Open(src) // #nosec G304 - library path comes from configuration.
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	hasher := xxh3.New()
	if _, err := io.Copy(hasher, io.LimitReader(f, maxLibrarySize)); err != nil {
		return "", err
	}
	h := fmt.Sprintf("%016x", hasher.Sum64())
	i.hashes[src] = h
	return h, nil
}
