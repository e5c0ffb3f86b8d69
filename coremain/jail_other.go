//go:build !unix

package coremain

import "go.uber.org/zap"

func withUmask(mask int, f func() error) error {
	return f()
}

func detachProcessGroup(logger *zap.Logger) {}
