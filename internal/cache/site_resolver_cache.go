package cache

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	showcasedomain "github.com/siteloom/growth/internal/showcase/domain"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
)

const (
	defaultSiteRefTTL  = 30 * time.Second
	defaultShowcaseTTL = 15 * time.Second
)

// SiteRef is the slim site lookup kept hot for event ingest. Sites are
// never hard-deleted, so a stale entry only skips one validation read;
// status mutations invalidate the key.
type SiteRef struct {
	SiteID    snowflake.ID
	OwnerID   snowflake.ID
	Status    sitedomain.SiteStatus
	CreatedAt time.Time
}

// SiteResolverCache stores hot-path lookups for event ingest and the
// public showcase listing.
type SiteResolverCache interface {
	GetSiteRef(siteID string) (SiteRef, bool)
	SetSiteRef(siteID string, ref SiteRef)
	InvalidateSite(siteID string)
	GetShowcase() ([]showcasedomain.ShowcaseEntry, bool)
	SetShowcase(entries []showcasedomain.ShowcaseEntry)
	InvalidateShowcase()
}

type siteResolverCache struct {
	sites       Cache[string, SiteRef]
	showcase    Cache[string, []showcasedomain.ShowcaseEntry]
	siteTTL     time.Duration
	showcaseTTL time.Duration
}

// NewSiteResolverCache returns an in-memory cache tuned for event ingest.
func NewSiteResolverCache() SiteResolverCache {
	return &siteResolverCache{
		sites:       NewTTLCache[string, SiteRef](),
		showcase:    NewTTLCache[string, []showcasedomain.ShowcaseEntry](),
		siteTTL:     defaultSiteRefTTL,
		showcaseTTL: defaultShowcaseTTL,
	}
}

func (c *siteResolverCache) GetSiteRef(siteID string) (SiteRef, bool) {
	return c.sites.Get(cacheKey(siteID))
}

func (c *siteResolverCache) SetSiteRef(siteID string, ref SiteRef) {
	if ref.SiteID == 0 {
		return
	}
	c.sites.Set(cacheKey(siteID), ref, c.siteTTL)
}

func (c *siteResolverCache) InvalidateSite(siteID string) {
	c.sites.Delete(cacheKey(siteID))
}

func (c *siteResolverCache) GetShowcase() ([]showcasedomain.ShowcaseEntry, bool) {
	return c.showcase.Get("showcase")
}

func (c *siteResolverCache) SetShowcase(entries []showcasedomain.ShowcaseEntry) {
	if entries == nil {
		entries = []showcasedomain.ShowcaseEntry{}
	}
	c.showcase.Set("showcase", entries, c.showcaseTTL)
}

func (c *siteResolverCache) InvalidateShowcase() {
	c.showcase.Delete("showcase")
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
