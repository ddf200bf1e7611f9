// Package access resolves which chat channels a principal may read and
// filters graph sources accordingly. Resolution results are cached with a
// TTL; a failing permission backend degrades to an empty set so a denied
// channel is never leaked through a stale or missing answer.
package access

import (
	"context"
	"time"

	"github.com/threadline-ai/threadline/backend/pkg/common"
	"github.com/threadline-ai/threadline/backend/pkg/logger"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker"
)

// Cache sizing and expiry.
const (
	DefaultTTL       = 5 * time.Minute
	defaultCacheSize = 10000
)

// Provider answers which channel refs a principal can read in a workspace.
type Provider interface {
	AccessibleChannels(ctx context.Context, orgID, principalID string) ([]string, error)
}

// Principal identifies the caller of a permission-gated read.
type Principal struct {
	ID    string
	OrgID string
}

// Cache wraps a Provider with TTL caching and a circuit breaker. Lookups
// never return an error: any failure resolves to no accessible channels.
type Cache struct {
	provider Provider
	cache    *expirable.LRU[string, map[string]bool]
	breaker  *gobreaker.CircuitBreaker
}

// NewCache creates a Cache around the given provider. A non-positive ttl
// takes DefaultTTL.
func NewCache(provider Provider, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "permission-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Cache{
		provider: provider,
		cache:    expirable.NewLRU[string, map[string]bool](defaultCacheSize, nil, ttl),
		breaker:  breaker,
	}
}

func cacheKey(orgID, principalID string) string {
	return orgID + ":" + principalID
}

// AccessibleChannels returns the set of channel refs the principal can read.
// Failures of the underlying provider yield an empty set; the result is not
// cached so the next lookup retries.
func (c *Cache) AccessibleChannels(ctx context.Context, principal Principal) map[string]bool {
	key := cacheKey(principal.OrgID, principal.ID)
	if channels, ok := c.cache.Get(key); ok {
		return channels
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.provider.AccessibleChannels(ctx, principal.OrgID, principal.ID)
	})
	if err != nil {
		logger.Warn("permission lookup failed, denying chat sources", "org", principal.OrgID, "principal", principal.ID, "error", err)
		return map[string]bool{}
	}

	channels := make(map[string]bool)
	for _, ref := range result.([]string) {
		channels[ref] = true
	}
	c.cache.Add(key, channels)
	return channels
}

// Invalidate drops the cached channel set for one principal.
func (c *Cache) Invalidate(orgID, principalID string) {
	c.cache.Remove(cacheKey(orgID, principalID))
}

// GraphResolver supplies the provenance lookups FilterGraph needs to trace
// relationship evidence back to channels.
type GraphResolver interface {
	SourcesForChunks(ctx context.Context, orgID string, chunkIDs []string) (map[string]string, error)
	ChannelsForSources(ctx context.Context, orgID string, sourceIDs []string) (map[string]common.SourceRecord, error)
}

// FilterGraph removes graph content the principal cannot see. A relationship
// survives when at least one of its evidence chunks traces to a readable
// source; chat sources outside the accessible channel set, unmappable chunks
// and evidence-free relationships are all dropped. An entity survives when it
// takes part in a surviving relationship, or had no relationships in the view
// at all. A nil principal means an internal caller and disables filtering.
func (c *Cache) FilterGraph(
	ctx context.Context,
	principal *Principal,
	orgID string,
	entities []common.Entity,
	relationships []common.Relationship,
	resolver GraphResolver,
) ([]common.Entity, []common.Relationship, error) {
	if principal == nil {
		return entities, relationships, nil
	}

	chunkSet := make(map[string]bool)
	for _, rel := range relationships {
		for _, chunkID := range rel.EvidenceChunkIDs {
			chunkSet[chunkID] = true
		}
	}
	chunkIDs := make([]string, 0, len(chunkSet))
	for id := range chunkSet {
		chunkIDs = append(chunkIDs, id)
	}

	chunkToSource, err := resolver.SourcesForChunks(ctx, orgID, chunkIDs)
	if err != nil {
		return nil, nil, err
	}
	sourceSet := make(map[string]bool, len(chunkToSource))
	sourceIDs := make([]string, 0, len(chunkToSource))
	for _, sourceID := range chunkToSource {
		if !sourceSet[sourceID] {
			sourceSet[sourceID] = true
			sourceIDs = append(sourceIDs, sourceID)
		}
	}
	sources, err := resolver.ChannelsForSources(ctx, orgID, sourceIDs)
	if err != nil {
		return nil, nil, err
	}

	var channels map[string]bool
	sourceReadable := func(sourceID string) bool {
		rec, ok := sources[sourceID]
		if !ok {
			return false
		}
		if rec.Kind != common.SourceKindChatThread {
			return true
		}
		if rec.ChannelRef == "" {
			return false
		}
		if channels == nil {
			channels = c.AccessibleChannels(ctx, *principal)
		}
		return channels[rec.ChannelRef]
	}

	connected := make(map[string]bool)
	keptEndpoint := make(map[string]bool)
	keptRelationships := make([]common.Relationship, 0, len(relationships))
	for _, rel := range relationships {
		connected[rel.SourceEntityID] = true
		connected[rel.TargetEntityID] = true

		readable := false
		for _, chunkID := range rel.EvidenceChunkIDs {
			if sourceID, ok := chunkToSource[chunkID]; ok && sourceReadable(sourceID) {
				readable = true
				break
			}
		}
		if readable {
			keptRelationships = append(keptRelationships, rel)
			keptEndpoint[rel.SourceEntityID] = true
			keptEndpoint[rel.TargetEntityID] = true
		}
	}

	keptEntities := make([]common.Entity, 0, len(entities))
	for _, entity := range entities {
		if keptEndpoint[entity.ID] || !connected[entity.ID] {
			keptEntities = append(keptEntities, entity)
		}
	}
	return keptEntities, keptRelationships, nil
}

// FilterSources removes chat-derived sources the principal cannot read.
// Document sources pass through; chat sources without a channel ref are
// dropped. A nil principal means an internal caller and disables filtering.
func (c *Cache) FilterSources(ctx context.Context, principal *Principal, sources []common.SourceRecord) []common.SourceRecord {
	if principal == nil {
		return sources
	}

	var channels map[string]bool
	filtered := make([]common.SourceRecord, 0, len(sources))
	for _, source := range sources {
		if source.Kind != common.SourceKindChatThread {
			filtered = append(filtered, source)
			continue
		}
		if source.ChannelRef == "" {
			continue
		}
		if channels == nil {
			channels = c.AccessibleChannels(ctx, *principal)
		}
		if channels[source.ChannelRef] {
			filtered = append(filtered, source)
		}
	}
	return filtered
}
