//go:build unix

package coremain

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// withUmask runs f with the process umask set to mask and restores the
// previous umask on every path out.
func withUmask(mask int, f func() error) error {
	saved := unix.Umask(mask)
	defer unix.Umask(saved)
	return f()
}

// detachProcessGroup puts the process into its own session so a
// supervisor-wide stop signal cannot interrupt a table update in flight.
// The supervisor has to wait out the current request instead.
func detachProcessGroup(logger *zap.Logger) {
	if _, err := unix.Setsid(); err != nil {
		// Already a process group leader, nothing to detach.
		logger.Debug("setsid failed", zap.Error(err))
	}
}
