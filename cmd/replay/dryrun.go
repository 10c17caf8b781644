package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/eleven-am/perception-backend/internal/vision"
)

// dryRunProvider answers every task from the frame digest alone.
type dryRunProvider struct{}

func (dryRunProvider) ID() string { return "dry-run" }

func (dryRunProvider) Capabilities() []vision.Task { return slices.Clone(vision.AllTasks) }

func (dryRunProvider) IsAvailable(context.Context) bool { return true }

func (dryRunProvider) Analyze(_ context.Context, data []byte, opts vision.AnalyzeOptions) (*vision.AnalysisResult, error) {
	if len(data) == 0 {
		return nil, vision.ErrNoFrameData
	}
	digest := vision.Digest(data)
	if len(digest) > 12 {
		digest = digest[:12]
	}
	return &vision.AnalysisResult{
		CompletedTasks: slices.Clone(opts.Tasks),
		Description:    fmt.Sprintf("frame %s (%d bytes)", digest, len(data)),
		Model:          "dry-run",
	}, nil
}
