package domain

import "context"

// RefreshResult reports one curation cycle.
type RefreshResult struct {
	EvictedAged       int   `json:"evicted_aged"`
	EvictedIneligible int   `json:"evicted_ineligible"`
	Admitted          int   `json:"admitted"`
	Size              int64 `json:"size"`
}

type Service interface {
	// Refresh runs one curation cycle in a single transaction: evict aged
	// and ineligible entries, admit the best qualifying sites up to the
	// cap, and re-rank the surviving set contiguously.
	Refresh(ctx context.Context) (*RefreshResult, error)

	List(ctx context.Context) ([]ShowcaseEntry, error)
}
