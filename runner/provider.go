package runner

import (
	"context"
	"log/slog"

	"github.com/c360studio/roxid/pipeline"
	"github.com/c360studio/roxid/runtime"
)

// Provider wires Docker-backed containers into a pipeline run.
type Provider struct {
	Workspace string
	Logger    *slog.Logger
}

// NewProvider returns a container provider rooted at the workspace.
func NewProvider(workspace string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{Workspace: workspace, Logger: logger}
}

func (p *Provider) Container(ref *pipeline.ContainerRef) runtime.ContainerRunner {
	return NewContainer(ref, p.Workspace, p.Logger)
}

func (p *Provider) StartService(ctx context.Context, name string, ref *pipeline.ContainerRef) (string, error) {
	return StartService(ctx, name, ref, p.Logger)
}

func (p *Provider) StopService(ctx context.Context, handle string) {
	StopService(ctx, handle)
}
