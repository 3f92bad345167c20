package env

import (
	"context"

	"github.com/crossrun/crossrun/internal/proc"
)

// Host runs commands directly on the current machine under the project
// root.
type Host struct {
	root string
}

// NewHost creates a host environment rooted at root.
func NewHost(root string) *Host {
	return &Host{root: root}
}

func (h *Host) RunCommand(cmd string, args []string, workdir string) (proc.Command, error) {
	commandsSpawnedTotal.WithLabelValues(variantHost).Inc()
	dir := workdir
	if dir == "" {
		dir = h.root
	}
	return proc.Start(cmd, args, dir)
}

// Cleanup is a no-op; the host owns no resources.
func (h *Host) Cleanup(ctx context.Context) error {
	return nil
}
