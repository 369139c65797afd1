//go:build linux

package renderer

import (
	"os"
	"strconv"
	"syscall"
)

// ReapOrphans force-kills processes whose argv still references the
// profile directory. Used after a graceful close fails: the browser (or a
// leftover child) is still holding the device's working state. Matching
// is exact on the --user-data-dir argument so unrelated processes on a
// shared host are never touched. Returns the PIDs that were killed.
func ReapOrphans(profileDir string) ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	self := os.Getpid()
	var killed []int

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}

		cmdline, err := os.ReadFile("/proc/" + entry.Name() + "/cmdline")
		if err != nil {
			// Process vanished or is not ours to inspect
			continue
		}
		if !matchesCmdline(cmdline, profileDir) {
			continue
		}

		// Re-verify the process still exists; it may have exited on its
		// own between discovery and now
		if err := syscall.Kill(pid, 0); err != nil {
			continue
		}
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			continue
		}
		killed = append(killed, pid)
	}

	return killed, nil
}
