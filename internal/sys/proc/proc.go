// Package proc provides /proc helpers for reaching into another process'
// namespaces: its pid as seen inside its own pid namespace, its root filesystem,
// and a liveness probe.
package proc

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Mount is the procfs mount point. Tests point it at a fake tree.
var Mount = "/proc"

func path(pid int, elem ...string) string {
	return filepath.Join(append([]string{Mount, strconv.Itoa(pid)}, elem...)...)
}

// RootPath returns the host path of the process' root directory.
func RootPath(pid int) string {
	return path(pid, "root")
}

// HostPath translates a path as seen by the process into a host path.
func HostPath(pid int, processPath string) string {
	return filepath.Join(RootPath(pid), processPath)
}

// ExePath returns the host path of the process' executable link. Running it
// runs the process' binary even when it lives in another mount namespace.
func ExePath(pid int) string {
	return path(pid, "exe")
}

// GetBinaryPath returns the path to the executable for the given PID.
func GetBinaryPath(pid int) (string, error) {
	return os.Readlink(ExePath(pid))
}

// NsPID returns the pid of the process inside its innermost pid namespace.
// Kernels without the NSpid status field yield the host pid.
func NsPID(pid int) (int, error) {
	//nolint:gosec // G304: Path is from /proc filesystem for system information.
	f, err := os.Open(path(pid, "status"))
	if err != nil {
		return 0, err
	}
	defer f.Close() // nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "NSpid:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "NSpid:"))
		if len(fields) == 0 {
			break
		}
		nspid, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid NSpid line %q: %w", line, err)
		}
		return nspid, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read status of pid %d: %w", pid, err)
	}

	return pid, nil
}

// IsRunning reports whether a process with the given pid exists.
// A process we may not signal still exists.
func IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Root is an open handle on a process' root directory.
// Files stay reachable through it after the process has exited, as long as the
// handle is open.
type Root struct {
	dir *os.File
}

// OpenRoot opens the root directory of pid.
func OpenRoot(pid int) (*Root, error) {
	dir, err := os.Open(RootPath(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to open root of pid %d: %w", pid, err)
	}
	return &Root{dir: dir}, nil
}

// Path returns a host path that resolves through the open handle.
func (r *Root) Path() string {
	return filepath.Join("/proc/self/fd", strconv.Itoa(int(r.dir.Fd())))
}

// FS returns the process' root filesystem.
func (r *Root) FS() fs.FS {
	return os.DirFS(r.Path())
}

// Close releases the handle.
func (r *Root) Close() error {
	return r.dir.Close()
}

// ListPids returns a list of all running process IDs from /proc.
// Pids are sorted in ascending order.
func ListPids() ([]int, error) {
	entries, err := os.ReadDir(Mount)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", Mount, err)
	}

	var pids []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue // Not a numeric directory.
		}

		if pid > 0 {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)

	return pids, nil
}
