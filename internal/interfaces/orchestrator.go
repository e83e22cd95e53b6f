package interfaces

import (
	"context"

	"github.com/repolens/repolens/internal/models"
)

// JobOrchestrator accepts analysis submissions and drives them to a terminal
// state. Submit returns the job ID and whether the submission coalesced onto
// an already in-flight job for the same (kind, input ref).
type JobOrchestrator interface {
	Submit(ctx context.Context, kind models.JobKind, ref models.InputRef) (jobID string, coalesced bool, err error)
	Cancel(jobID string) error
}
