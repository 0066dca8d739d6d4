package analysis

import (
	"context"

	"github.com/parklens/parklens/api/types"
)

// Backend is the set of analysis operations the router needs.
type Backend interface {
	Analyze(ctx context.Context, req types.AnalyzeRequest) *types.Envelope
	AnalyzeNature(ctx context.Context, req types.NatureRequest) *types.Envelope
	DownloadAnnotated(ctx context.Context, imageHash string, req types.RenderRequest) *types.Envelope
	BatchAnalyze(ctx context.Context, req types.BatchRequest) (*types.BatchResult, error)
	GetBatch(batchID string) (*types.BatchResult, error)
}
