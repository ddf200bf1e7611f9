package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/threadline-ai/threadline/backend/pkg/common"
	"github.com/threadline-ai/threadline/backend/pkg/store"
)

// Traversal bounds. Requests above MaxNodeLimit are clamped, not rejected.
const (
	DefaultDepth     = 2
	DefaultNodeLimit = 100
	MaxNodeLimit     = 500
)

// Subgraph is a self-contained view of the graph: every relationship's
// endpoints are present in Entities.
type Subgraph struct {
	Entities      []common.Entity       `json:"entities"`
	Relationships []common.Relationship `json:"relationships"`
}

// TraverseOptions bound a traversal. Zero values take the defaults above.
type TraverseOptions struct {
	Depth             int
	NodeLimit         int
	EntityTypes       []string
	RelationshipTypes []string
}

func (o TraverseOptions) withDefaults() TraverseOptions {
	if o.Depth <= 0 {
		o.Depth = DefaultDepth
	}
	if o.NodeLimit <= 0 {
		o.NodeLimit = DefaultNodeLimit
	}
	if o.NodeLimit > MaxNodeLimit {
		o.NodeLimit = MaxNodeLimit
	}
	return o
}

// CenteredSubgraph walks the graph breadth-first from a center entity,
// following edges in both directions, and returns the visited nodes plus all
// relationships among them. Expansion stops at the depth and node bounds;
// edges leading outside the final node set are dropped so the result stays
// self-contained.
func CenteredSubgraph(ctx context.Context, s store.GraphStore, orgID, centerID string, opts TraverseOptions) (*Subgraph, error) {
	opts = opts.withDefaults()

	center, err := s.GetEntity(ctx, orgID, centerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve center entity: %w", err)
	}
	if !matchesType(center.Type, opts.EntityTypes) {
		return &Subgraph{Entities: []common.Entity{}, Relationships: nil}, nil
	}

	visited := map[string]common.Entity{center.ID: *center}
	order := []string{center.ID}
	frontier := []string{center.ID}

	for depth := 0; depth < opts.Depth && len(frontier) > 0 && len(visited) < opts.NodeLimit; depth++ {
		var next []string
		for _, entityID := range frontier {
			if len(visited) >= opts.NodeLimit {
				break
			}
			neighbors, err := collectNeighbors(ctx, s, orgID, entityID)
			if err != nil {
				return nil, err
			}
			for _, neighbor := range neighbors {
				if _, ok := visited[neighbor.ID]; ok {
					continue
				}
				if !matchesType(neighbor.Type, opts.EntityTypes) {
					continue
				}
				if len(visited) >= opts.NodeLimit {
					break
				}
				visited[neighbor.ID] = neighbor
				order = append(order, neighbor.ID)
				next = append(next, neighbor.ID)
			}
		}
		frontier = next
	}

	relationships, err := s.ListRelationshipsAmong(ctx, orgID, order, opts.RelationshipTypes)
	if err != nil {
		return nil, err
	}

	entities := make([]common.Entity, 0, len(order))
	for _, id := range order {
		entities = append(entities, visited[id])
	}
	return &Subgraph{Entities: entities, Relationships: relationships}, nil
}

func matchesType(entityType string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, t := range filter {
		if t == entityType {
			return true
		}
	}
	return false
}

// collectNeighbors returns the distinct entities adjacent to entityID over
// incoming and outgoing edges, heaviest edges first so the node budget is
// spent on the strongest connections.
func collectNeighbors(ctx context.Context, s store.GraphStore, orgID, entityID string) ([]common.Entity, error) {
	outgoing, err := s.ListOutgoing(ctx, orgID, entityID)
	if err != nil {
		return nil, err
	}
	incoming, err := s.ListIncoming(ctx, orgID, entityID)
	if err != nil {
		return nil, err
	}

	edges := make([]store.Edge, 0, len(outgoing)+len(incoming))
	edges = append(edges, outgoing...)
	edges = append(edges, incoming...)
	sort.Slice(edges, func(i, j int) bool {
		return edges[i].Relationship.Weight > edges[j].Relationship.Weight
	})

	seen := make(map[string]bool, len(edges))
	neighbors := make([]common.Entity, 0, len(edges))
	for _, edge := range edges {
		if seen[edge.Other.ID] {
			continue
		}
		seen[edge.Other.ID] = true
		neighbors = append(neighbors, edge.Other)
	}
	return neighbors, nil
}

// RankedProjection returns the most-mentioned entities of a workspace and
// the relationships among them. It backs the workspace graph view when no
// center entity is given.
func RankedProjection(ctx context.Context, s store.GraphStore, orgID string, opts TraverseOptions) (*Subgraph, error) {
	opts = opts.withDefaults()

	entities, err := s.TopEntities(ctx, orgID, opts.NodeLimit, opts.EntityTypes)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(entities))
	for i, entity := range entities {
		ids[i] = entity.ID
	}
	relationships, err := s.ListRelationshipsAmong(ctx, orgID, ids, opts.RelationshipTypes)
	if err != nil {
		return nil, err
	}
	return &Subgraph{Entities: entities, Relationships: relationships}, nil
}
