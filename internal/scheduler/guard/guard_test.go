package guard

import (
	"testing"

	sitedomain "github.com/siteloom/growth/internal/site/domain"
	"github.com/stretchr/testify/assert"
)

func TestEnsureSiteTransition(t *testing.T) {
	cases := []struct {
		name string
		from sitedomain.SiteStatus
		to   sitedomain.SiteStatus
		want error
	}{
		{"draft to building", sitedomain.StatusDraft, sitedomain.StatusBuilding, nil},
		{"building to active", sitedomain.StatusBuilding, sitedomain.StatusActive, nil},
		{"active back to building", sitedomain.StatusActive, sitedomain.StatusBuilding, nil},
		{"active to featured", sitedomain.StatusActive, sitedomain.StatusFeatured, nil},
		{"active to viral", sitedomain.StatusActive, sitedomain.StatusViral, nil},
		{"featured to viral", sitedomain.StatusFeatured, sitedomain.StatusViral, nil},
		{"featured reverts to active", sitedomain.StatusFeatured, sitedomain.StatusActive, nil},
		{"viral demotes to featured", sitedomain.StatusViral, sitedomain.StatusFeatured, nil},
		{"viral demotes to active", sitedomain.StatusViral, sitedomain.StatusActive, nil},
		{"featured to suspended", sitedomain.StatusFeatured, sitedomain.StatusSuspended, nil},
		{"same status is a no-op", sitedomain.StatusActive, sitedomain.StatusActive, nil},
		{"draft cannot feature", sitedomain.StatusDraft, sitedomain.StatusFeatured, ErrInvalidTransition},
		{"building cannot go viral", sitedomain.StatusBuilding, sitedomain.StatusViral, ErrInvalidTransition},
		{"featured cannot rewind to draft", sitedomain.StatusFeatured, sitedomain.StatusDraft, ErrInvalidTransition},
		{"suspension is terminal", sitedomain.StatusSuspended, sitedomain.StatusActive, ErrInvalidTransition},
		{"unknown from", sitedomain.SiteStatus("archived"), sitedomain.StatusActive, ErrUnknownStatus},
		{"unknown to", sitedomain.StatusActive, sitedomain.SiteStatus(""), ErrUnknownStatus},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := EnsureSiteTransition(tc.from, tc.to)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestEverySuspensionSourceIsAllowed(t *testing.T) {
	for _, from := range []sitedomain.SiteStatus{
		sitedomain.StatusDraft,
		sitedomain.StatusBuilding,
		sitedomain.StatusActive,
		sitedomain.StatusFeatured,
		sitedomain.StatusViral,
	} {
		assert.NoError(t, EnsureSiteTransition(from, sitedomain.StatusSuspended), "from %s", from)
	}
}
