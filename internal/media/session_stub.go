//go:build !linux

package media

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

// NewSession has no OS surface outside Linux; callers fall back to NoOpSession
func NewSession(log *zap.Logger) (Session, error) {
	return nil, fmt.Errorf("media session not supported on %s", runtime.GOOS)
}
