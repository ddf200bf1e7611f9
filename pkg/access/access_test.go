package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/threadline-ai/threadline/backend/pkg/common"
)

type fakeProvider struct {
	channels map[string][]string
	err      error
	calls    int
}

func (p *fakeProvider) AccessibleChannels(_ context.Context, orgID, principalID string) ([]string, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.channels[orgID+":"+principalID], nil
}

func TestAccessibleChannelsCachesResults(t *testing.T) {
	provider := &fakeProvider{channels: map[string][]string{
		"org-1:user-1": {"chan-a", "chan-b"},
	}}
	cache := NewCache(provider, time.Minute)
	principal := Principal{ID: "user-1", OrgID: "org-1"}

	for i := 0; i < 3; i++ {
		channels := cache.AccessibleChannels(context.Background(), principal)
		if !channels["chan-a"] || !channels["chan-b"] || channels["chan-c"] {
			t.Fatalf("round %d: channels = %v", i, channels)
		}
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
}

func TestAccessibleChannelsProviderErrorDenies(t *testing.T) {
	provider := &fakeProvider{err: errors.New("backend down")}
	cache := NewCache(provider, time.Minute)
	principal := Principal{ID: "user-1", OrgID: "org-1"}

	channels := cache.AccessibleChannels(context.Background(), principal)
	if len(channels) != 0 {
		t.Errorf("channels = %v, want empty set on error", channels)
	}

	// Errors must not be cached: recovery is picked up on the next lookup.
	provider.err = nil
	provider.channels = map[string][]string{"org-1:user-1": {"chan-a"}}
	channels = cache.AccessibleChannels(context.Background(), principal)
	if !channels["chan-a"] {
		t.Errorf("channels after recovery = %v, want chan-a", channels)
	}
}

func TestInvalidateDropsCachedEntry(t *testing.T) {
	provider := &fakeProvider{channels: map[string][]string{
		"org-1:user-1": {"chan-a"},
	}}
	cache := NewCache(provider, time.Minute)
	principal := Principal{ID: "user-1", OrgID: "org-1"}

	cache.AccessibleChannels(context.Background(), principal)
	cache.Invalidate("org-1", "user-1")
	cache.AccessibleChannels(context.Background(), principal)

	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2 after invalidation", provider.calls)
	}
}

func TestFilterSources(t *testing.T) {
	provider := &fakeProvider{channels: map[string][]string{
		"org-1:user-1": {"chan-a"},
	}}
	cache := NewCache(provider, time.Minute)

	sources := []common.SourceRecord{
		{ID: "doc-1", Kind: common.SourceKindDocument},
		{ID: "chat-allowed", Kind: common.SourceKindChatThread, ChannelRef: "chan-a"},
		{ID: "chat-denied", Kind: common.SourceKindChatThread, ChannelRef: "chan-b"},
		{ID: "chat-unmapped", Kind: common.SourceKindChatThread},
	}

	filtered := cache.FilterSources(context.Background(), &Principal{ID: "user-1", OrgID: "org-1"}, sources)
	if len(filtered) != 2 {
		t.Fatalf("filtered = %d sources, want 2", len(filtered))
	}
	if filtered[0].ID != "doc-1" || filtered[1].ID != "chat-allowed" {
		t.Errorf("filtered = %+v", filtered)
	}
}

func TestFilterSourcesNilPrincipalPassesThrough(t *testing.T) {
	cache := NewCache(&fakeProvider{}, time.Minute)
	sources := []common.SourceRecord{
		{ID: "chat-1", Kind: common.SourceKindChatThread, ChannelRef: "chan-x"},
	}
	filtered := cache.FilterSources(context.Background(), nil, sources)
	if len(filtered) != 1 {
		t.Errorf("filtered = %d, want passthrough for internal caller", len(filtered))
	}
}

type fakeResolver struct {
	chunkToSource map[string]string
	sources       map[string]common.SourceRecord
}

func (r *fakeResolver) SourcesForChunks(_ context.Context, _ string, chunkIDs []string) (map[string]string, error) {
	resolved := make(map[string]string)
	for _, id := range chunkIDs {
		if sourceID, ok := r.chunkToSource[id]; ok {
			resolved[id] = sourceID
		}
	}
	return resolved, nil
}

func (r *fakeResolver) ChannelsForSources(_ context.Context, _ string, sourceIDs []string) (map[string]common.SourceRecord, error) {
	resolved := make(map[string]common.SourceRecord)
	for _, id := range sourceIDs {
		if rec, ok := r.sources[id]; ok {
			resolved[id] = rec
		}
	}
	return resolved, nil
}

func TestFilterGraph(t *testing.T) {
	provider := &fakeProvider{channels: map[string][]string{
		"org-1:user-1": {"chan-a"},
	}}
	cache := NewCache(provider, time.Minute)

	resolver := &fakeResolver{
		chunkToSource: map[string]string{
			"chunk-doc":     "doc-1",
			"chunk-allowed": "chat-allowed",
			"chunk-denied":  "chat-denied",
		},
		sources: map[string]common.SourceRecord{
			"doc-1":        {ID: "doc-1", Kind: common.SourceKindDocument},
			"chat-allowed": {ID: "chat-allowed", Kind: common.SourceKindChatThread, ChannelRef: "chan-a"},
			"chat-denied":  {ID: "chat-denied", Kind: common.SourceKindChatThread, ChannelRef: "chan-b"},
		},
	}

	entities := []common.Entity{
		{ID: "e-doc"}, {ID: "e-chat"}, {ID: "e-secret"}, {ID: "e-isolated"},
	}
	relationships := []common.Relationship{
		{ID: "r-doc", SourceEntityID: "e-doc", TargetEntityID: "e-chat", EvidenceChunkIDs: []string{"chunk-doc"}},
		{ID: "r-allowed", SourceEntityID: "e-chat", TargetEntityID: "e-doc", EvidenceChunkIDs: []string{"chunk-allowed"}},
		{ID: "r-denied", SourceEntityID: "e-chat", TargetEntityID: "e-secret", EvidenceChunkIDs: []string{"chunk-denied"}},
		{ID: "r-unmapped", SourceEntityID: "e-doc", TargetEntityID: "e-secret", EvidenceChunkIDs: []string{"chunk-gone"}},
		{ID: "r-no-evidence", SourceEntityID: "e-doc", TargetEntityID: "e-secret"},
	}

	keptEntities, keptRelationships, err := cache.FilterGraph(
		context.Background(), &Principal{ID: "user-1", OrgID: "org-1"}, "org-1",
		entities, relationships, resolver,
	)
	if err != nil {
		t.Fatalf("FilterGraph: %v", err)
	}

	if len(keptRelationships) != 2 {
		t.Fatalf("relationships = %+v, want r-doc and r-allowed only", keptRelationships)
	}
	for _, rel := range keptRelationships {
		if rel.ID != "r-doc" && rel.ID != "r-allowed" {
			t.Errorf("unexpected relationship survived: %s", rel.ID)
		}
	}

	// e-secret only appears in denied or unmappable edges and must go;
	// e-isolated has no edges at all and stays.
	kept := make(map[string]bool)
	for _, entity := range keptEntities {
		kept[entity.ID] = true
	}
	if !kept["e-doc"] || !kept["e-chat"] || !kept["e-isolated"] || kept["e-secret"] {
		t.Errorf("entities = %+v", keptEntities)
	}
}

func TestFilterGraphNilPrincipalPassesThrough(t *testing.T) {
	cache := NewCache(&fakeProvider{}, time.Minute)
	entities := []common.Entity{{ID: "e-1"}}
	relationships := []common.Relationship{
		{ID: "r-1", SourceEntityID: "e-1", TargetEntityID: "e-1", EvidenceChunkIDs: []string{"chunk-1"}},
	}

	keptEntities, keptRelationships, err := cache.FilterGraph(
		context.Background(), nil, "org-1", entities, relationships, &fakeResolver{},
	)
	if err != nil {
		t.Fatalf("FilterGraph: %v", err)
	}
	if len(keptEntities) != 1 || len(keptRelationships) != 1 {
		t.Errorf("want passthrough for internal caller, got %d entities, %d relationships",
			len(keptEntities), len(keptRelationships))
	}
}

func TestFilterGraphProviderErrorDropsChat(t *testing.T) {
	cache := NewCache(&fakeProvider{err: errors.New("backend down")}, time.Minute)
	resolver := &fakeResolver{
		chunkToSource: map[string]string{"chunk-1": "chat-1"},
		sources: map[string]common.SourceRecord{
			"chat-1": {ID: "chat-1", Kind: common.SourceKindChatThread, ChannelRef: "chan-a"},
		},
	}
	relationships := []common.Relationship{
		{ID: "r-1", SourceEntityID: "a", TargetEntityID: "b", EvidenceChunkIDs: []string{"chunk-1"}},
	}

	_, keptRelationships, err := cache.FilterGraph(
		context.Background(), &Principal{ID: "user-1", OrgID: "org-1"}, "org-1",
		[]common.Entity{{ID: "a"}, {ID: "b"}}, relationships, resolver,
	)
	if err != nil {
		t.Fatalf("FilterGraph: %v", err)
	}
	if len(keptRelationships) != 0 {
		t.Errorf("relationships = %+v, want none while the provider is down", keptRelationships)
	}
}

func TestFilterSourcesProviderErrorDropsChat(t *testing.T) {
	cache := NewCache(&fakeProvider{err: errors.New("backend down")}, time.Minute)
	sources := []common.SourceRecord{
		{ID: "doc-1", Kind: common.SourceKindDocument},
		{ID: "chat-1", Kind: common.SourceKindChatThread, ChannelRef: "chan-a"},
	}
	filtered := cache.FilterSources(context.Background(), &Principal{ID: "user-1", OrgID: "org-1"}, sources)
	if len(filtered) != 1 || filtered[0].ID != "doc-1" {
		t.Errorf("filtered = %+v, want only the document", filtered)
	}
}
