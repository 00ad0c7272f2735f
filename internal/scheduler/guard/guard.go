// Package guard holds the pure site lifecycle preconditions applied before
// sweep-driven status writes.
package guard

import (
	"errors"

	sitedomain "github.com/siteloom/growth/internal/site/domain"
)

var (
	ErrUnknownStatus     = errors.New("unknown_site_status")
	ErrInvalidTransition = errors.New("invalid_site_transition")
)

// allowedTransitions is the full lifecycle. Collaborator statuses move
// freely among themselves, featuring promotes active sites and demotes them
// back, and suspension is reachable from anywhere but terminal here.
var allowedTransitions = map[sitedomain.SiteStatus]map[sitedomain.SiteStatus]bool{
	sitedomain.StatusDraft: {
		sitedomain.StatusBuilding:  true,
		sitedomain.StatusActive:    true,
		sitedomain.StatusSuspended: true,
	},
	sitedomain.StatusBuilding: {
		sitedomain.StatusDraft:     true,
		sitedomain.StatusActive:    true,
		sitedomain.StatusSuspended: true,
	},
	sitedomain.StatusActive: {
		sitedomain.StatusDraft:     true,
		sitedomain.StatusBuilding:  true,
		sitedomain.StatusFeatured:  true,
		sitedomain.StatusViral:     true,
		sitedomain.StatusSuspended: true,
	},
	sitedomain.StatusFeatured: {
		sitedomain.StatusActive:    true,
		sitedomain.StatusViral:     true,
		sitedomain.StatusSuspended: true,
	},
	sitedomain.StatusViral: {
		sitedomain.StatusActive:    true,
		sitedomain.StatusFeatured:  true,
		sitedomain.StatusSuspended: true,
	},
	sitedomain.StatusSuspended: {},
}

// EnsureSiteTransition reports whether a status change is part of the
// lifecycle. Same-status writes are allowed so guarded retries stay quiet.
func EnsureSiteTransition(from, to sitedomain.SiteStatus) error {
	if !sitedomain.ValidStatus(from) || !sitedomain.ValidStatus(to) {
		return ErrUnknownStatus
	}
	if from == to {
		return nil
	}
	if !allowedTransitions[from][to] {
		return ErrInvalidTransition
	}
	return nil
}
