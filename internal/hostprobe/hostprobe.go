// Package hostprobe implements the "misc" grab-bag of spec §2/§4.5: host
// platform detection and the directory-existence check the environment
// contract requires before a persist_directory is handed to a child.
package hostprobe

import (
	"fmt"
	"os"
	"runtime"
)

// OperatingSystem classifies the host the manager is running on.
type OperatingSystem int

const (
	OSUnknown OperatingSystem = iota
	OSMacOS
	OSWindows
	OSLinux
	OSMobile
)

// Current returns the host's OperatingSystem classification.
func Current() OperatingSystem {
	switch runtime.GOOS {
	case "darwin":
		return OSMacOS
	case "windows":
		return OSWindows
	case "linux":
		return OSLinux
	case "android", "ios":
		return OSMobile
	default:
		return OSUnknown
	}
}

// IsNotDesktop reports whether the host cannot supervise sidecar child
// processes — plugins are a desktop-only feature, per the manager's
// platform guard.
func (o OperatingSystem) IsNotDesktop() bool {
	return o == OSMobile || o == OSUnknown
}

// EnsureDir creates dir (and parents) if it doesn't already exist, so a
// persist_directory is always present before being passed to a child.
func EnsureDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("hostprobe: ensure dir %s: %w", dir, err)
	}
	return nil
}
