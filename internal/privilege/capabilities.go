package privilege

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Linux capability bit positions (include/uapi/linux/capability.h).
const (
	capSysPtrace = 19
	capSysAdmin  = 21
)

// Capabilities are the privileges relevant to profiling foreign processes.
type Capabilities struct {
	Root      bool
	SysPtrace bool
	SysAdmin  bool
}

// CanAttachAnyProcess reports whether jattach may attach to processes owned by
// other users.
func (c Capabilities) CanAttachAnyProcess() bool {
	return c.Root || c.SysPtrace
}

// CanEnterNamespaces reports whether nsenter can join a container's namespaces.
func (c Capabilities) CanEnterNamespaces() bool {
	return c.Root || c.SysAdmin
}

// Detect reads the effective capabilities of the current process.
func Detect() (Capabilities, error) {
	return DetectFrom("/proc/self/status", IsRoot())
}

// DetectFrom parses the CapEff line of a /proc/<pid>/status file.
func DetectFrom(statusPath string, root bool) (Capabilities, error) {
	capEff, err := readCapabilityBitmask(statusPath, "CapEff")
	if err != nil {
		return Capabilities{Root: root}, err
	}
	return Capabilities{
		Root:      root,
		SysPtrace: hasCapability(capEff, capSysPtrace),
		SysAdmin:  hasCapability(capEff, capSysAdmin),
	}, nil
}

// Preflight logs a warning for every missing privilege. Profiling still runs;
// processes the agent cannot attach to fail individually.
func Preflight(logger zerolog.Logger) Capabilities {
	caps, err := Detect()
	if err != nil {
		logger.Debug().Err(err).Msg("Failed to read process capabilities")
	}
	if !caps.CanAttachAnyProcess() {
		logger.Warn().Msg("Running without root or CAP_SYS_PTRACE, attaching to processes of other users will fail")
	}
	if !caps.CanEnterNamespaces() {
		logger.Warn().Msg("Running without root or CAP_SYS_ADMIN, version checks inside containers will fail")
	}
	return caps
}

func readCapabilityBitmask(statusPath, capName string) (uint64, error) {
	// #nosec G304 - statusPath is a procfs path.
	file, err := os.Open(statusPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", statusPath, err)
	}
	defer file.Close() // nolint:errcheck

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, capName+":") {
			continue
		}
		// "CapEff:\t00000000a80435fb"
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return 0, fmt.Errorf("invalid %s format: %s", capName, line)
		}
		bitmask, err := strconv.ParseUint(parts[1], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s bitmask: %w", capName, err)
		}
		return bitmask, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", statusPath, err)
	}
	return 0, fmt.Errorf("%s not found in %s", capName, statusPath)
}

func hasCapability(bitmask uint64, capBit int) bool {
	return bitmask&(1<<uint(capBit)) != 0
}
