package bulkfetch

import (
	"errors"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/sells-group/ontime-cli/internal/fetcher"
)

// Gate short-circuits tasks whose artifact is already on disk.
type Gate struct {
	verify func(path string) error
}

// NewGate returns a presence-only gate, or one that also requires prior
// artifacts to open as valid ZIP archives when verifyExisting is set.
func NewGate(verifyExisting bool) *Gate {
	g := &Gate{}
	if verifyExisting {
		g.verify = fetcher.VerifyZIP
	}
	return g
}

// Check returns an AlreadySatisfied outcome and true when task.LocalPath is a
// non-empty regular file (that passes verification, if enabled).
func (g *Gate) Check(task Task) (Outcome, bool) {
	info, err := os.Stat(task.LocalPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			zap.L().Warn("gate: stat existing artifact",
				zap.String("period", task.Period.String()),
				zap.Error(err),
			)
		}
		return Outcome{}, false
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return Outcome{}, false
	}
	if g.verify != nil {
		if err := g.verify(task.LocalPath); err != nil {
			zap.L().Warn("gate: existing artifact failed verification, refetching",
				zap.String("period", task.Period.String()),
				zap.String("path", task.LocalPath),
				zap.Error(err),
			)
			return Outcome{}, false
		}
	}
	return satisfied(task, info.Size()), true
}
