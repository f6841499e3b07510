package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/yungbote/studypath-backend/internal/pkg/cache"
	apperrors "github.com/yungbote/studypath-backend/internal/pkg/errors"
	"github.com/yungbote/studypath-backend/internal/pkg/logger"
	"github.com/yungbote/studypath-backend/internal/types"
)

// LearningPathItem is one step in a generated study order. Items are
// computed fresh per generation (modulo the result cache) and never
// persisted.
type LearningPathItem struct {
	KeypointID         uuid.UUID `json:"keypoint_id"`
	Text               string    `json:"text"`
	DocumentName       string    `json:"document_name,omitempty"`
	DocumentNames      []string  `json:"document_names,omitempty"`
	MasteryLevel       float64   `json:"mastery_level"`
	AttemptCount       int       `json:"attempt_count"`
	Priority           string    `json:"priority"`
	Position           int       `json:"position"`
	UnmetPrerequisites []string  `json:"unmet_prerequisites,omitempty"`
	RecommendedAction  string    `json:"recommended_action"`
}

// PathEdge is a prerequisite edge collapsed onto cluster representatives,
// returned alongside the ordered items for visualization.
type PathEdge struct {
	FromKeypointID uuid.UUID `json:"from_keypoint_id"`
	ToKeypointID   uuid.UUID `json:"to_keypoint_id"`
	Relation       string    `json:"relation"`
	Confidence     float64   `json:"confidence"`
}

type LearningPath struct {
	Items []*LearningPathItem `json:"items"`
	Edges []PathEdge          `json:"edges"`
}

type PathService interface {
	// GeneratePath produces the kb's mastery-annotated topological study
	// order. limit > 0 truncates the returned items without re-ranking.
	GeneratePath(ctx context.Context, userID, kbID uuid.UUID, limit int) (*LearningPath, error)
	// InvalidateForKB drops the kb's cached path. Callers invoke it when
	// keypoints are added or removed upstream.
	InvalidateForKB(ctx context.Context, kbID uuid.UUID) error
}

type pathService struct {
	log      *logger.Logger
	clusters ClusteringService
	graph    GraphService
	cache    cache.Cache
	policy   MasteryPolicy
}

func NewPathService(baseLog *logger.Logger, clusters ClusteringService, graph GraphService, resultCache cache.Cache, policy MasteryPolicy) PathService {
	return &pathService{
		log:      baseLog.With("service", "PathService"),
		clusters: clusters,
		graph:    graph,
		cache:    resultCache,
		policy:   policy,
	}
}

func pathCacheKey(kbID uuid.UUID) string {
	return "learning_path:" + kbID.String()
}

func (s *pathService) GeneratePath(ctx context.Context, userID, kbID uuid.UUID, limit int) (*LearningPath, error) {
	if userID == uuid.Nil || kbID == uuid.Nil {
		return nil, fmt.Errorf("user and kb ids required: %w", apperrors.ErrInvalidArgument)
	}

	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, pathCacheKey(kbID)); err == nil && ok {
			var cached LearningPath
			if json.Unmarshal(raw, &cached) == nil {
				return truncatePath(&cached, limit), nil
			}
		} else if err != nil {
			s.log.Warn("path cache read failed", "kb_id", kbID, "error", err)
		}
	}

	clusters, err := s.clusters.BuildClusters(ctx, userID, kbID)
	if err != nil {
		return nil, err
	}
	edgeRows, err := s.graph.BuildGraph(ctx, userID, kbID, false)
	if err != nil {
		return nil, err
	}

	full := assemblePath(clusters, edgeRows, s.policy)

	if s.cache != nil {
		if raw, err := json.Marshal(full); err == nil {
			if err := s.cache.Set(ctx, pathCacheKey(kbID), raw, 0); err != nil {
				s.log.Warn("path cache write failed", "kb_id", kbID, "error", err)
			}
		}
	}

	return truncatePath(full, limit), nil
}

func (s *pathService) InvalidateForKB(ctx context.Context, kbID uuid.UUID) error {
	if s.cache == nil || kbID == uuid.Nil {
		return nil
	}
	return s.cache.Delete(ctx, pathCacheKey(kbID))
}

// assemblePath is the pure generation core: fixed partition + edge set +
// mastery snapshot in, identical output out.
func assemblePath(clusters []*KeypointCluster, edgeRows []*types.PrerequisiteEdge, policy MasteryPolicy) *LearningPath {
	byRep := map[uuid.UUID]*KeypointCluster{}
	repByMember := map[uuid.UUID]uuid.UUID{}
	nodes := make([]uuid.UUID, 0, len(clusters))
	for _, c := range clusters {
		byRep[c.Representative.ID] = c
		nodes = append(nodes, c.Representative.ID)
		for _, m := range c.Members {
			repByMember[m.ID] = c.Representative.ID
		}
	}

	// Collapse edges onto representatives; collapsing can fold an edge
	// into a self-loop or a duplicate, both dropped.
	var edges []PathEdge
	seen := map[edgePair]bool{}
	for _, e := range edgeRows {
		from, ok := repByMember[e.FromKeypointID]
		if !ok {
			continue
		}
		to, ok := repByMember[e.ToKeypointID]
		if !ok {
			continue
		}
		if from == to {
			continue
		}
		p := edgePair{From: from, To: to}
		if seen[p] {
			continue
		}
		seen[p] = true
		edges = append(edges, PathEdge{
			FromKeypointID: from,
			ToKeypointID:   to,
			Relation:       e.Relation,
			Confidence:     e.Confidence,
		})
	}

	order := topologicalOrder(nodes, edges)

	// Prerequisites per node, in collapsed-edge order.
	prereqs := map[uuid.UUID][]uuid.UUID{}
	for _, e := range edges {
		prereqs[e.ToKeypointID] = append(prereqs[e.ToKeypointID], e.FromKeypointID)
	}

	items := make([]*LearningPathItem, 0, len(order))
	for i, rep := range order {
		c := byRep[rep]
		if c == nil {
			continue
		}

		var unmet []string
		for _, pre := range prereqs[rep] {
			pc := byRep[pre]
			if pc == nil {
				continue
			}
			if pc.MasteryLevel < policy.PrereqGateThreshold {
				unmet = append(unmet, pc.Representative.Text)
			}
		}

		items = append(items, &LearningPathItem{
			KeypointID:         rep,
			Text:               c.Representative.Text,
			DocumentName:       c.Representative.DocumentName,
			DocumentNames:      c.DocumentNames,
			MasteryLevel:       c.MasteryLevel,
			AttemptCount:       c.AttemptCount,
			Priority:           policy.PriorityBucket(c.MasteryLevel),
			Position:           i + 1,
			UnmetPrerequisites: unmet,
			RecommendedAction:  policy.RecommendedAction(c.MasteryLevel, c.AttemptCount),
		})
	}

	return &LearningPath{Items: items, Edges: edges}
}

// topologicalOrder runs Kahn's algorithm with id-sorted tie-breaking so a
// fixed input always yields the same order. Nodes stuck in a residual
// cycle (which the builder should have prevented) are appended id-sorted.
func topologicalOrder(nodes []uuid.UUID, edges []PathEdge) []uuid.UUID {
	indeg := map[uuid.UUID]int{}
	adj := map[uuid.UUID][]uuid.UUID{}
	for _, n := range nodes {
		indeg[n] = 0
	}
	for _, e := range edges {
		if _, ok := indeg[e.FromKeypointID]; !ok {
			continue
		}
		if _, ok := indeg[e.ToKeypointID]; !ok {
			continue
		}
		indeg[e.ToKeypointID]++
		adj[e.FromKeypointID] = append(adj[e.FromKeypointID], e.ToKeypointID)
	}

	var ready []uuid.UUID
	for _, n := range nodes {
		if indeg[n] == 0 {
			ready = append(ready, n)
		}
	}
	sortUUIDs(ready)

	order := make([]uuid.UUID, 0, len(nodes))
	emitted := map[uuid.UUID]bool{}
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		emitted[n] = true

		var newly []uuid.UUID
		for _, m := range adj[n] {
			indeg[m]--
			if indeg[m] == 0 {
				newly = append(newly, m)
			}
		}
		sortUUIDs(newly)
		ready = append(ready, newly...)
	}

	if len(order) < len(nodes) {
		var leftovers []uuid.UUID
		for _, n := range nodes {
			if !emitted[n] {
				leftovers = append(leftovers, n)
			}
		}
		sortUUIDs(leftovers)
		order = append(order, leftovers...)
	}
	return order
}

func sortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
}

// truncatePath applies the result limit order-preservingly. The full edge
// list always rides along for visualization.
func truncatePath(p *LearningPath, limit int) *LearningPath {
	if limit <= 0 || len(p.Items) <= limit {
		return p
	}
	return &LearningPath{Items: p.Items[:limit], Edges: p.Edges}
}
