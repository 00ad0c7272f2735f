package domain

import "context"

// DispatchResult reports one dispatcher pass.
type DispatchResult struct {
	Claimed   int `json:"claimed"`
	Published int `json:"published"`
}

type Service interface {
	// DispatchPending claims a batch of unpublished records, hands them to
	// subscribers, and marks them published.
	DispatchPending(ctx context.Context, batchSize int) (*DispatchResult, error)
	PendingCount(ctx context.Context) (int64, error)
}
