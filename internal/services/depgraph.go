package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/yungbote/studypath-backend/internal/clients/openai"
	"github.com/yungbote/studypath-backend/internal/data/db"
	"github.com/yungbote/studypath-backend/internal/data/repos"
	"github.com/yungbote/studypath-backend/internal/pkg/cache"
	"github.com/yungbote/studypath-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/studypath-backend/internal/pkg/errors"
	"github.com/yungbote/studypath-backend/internal/pkg/logger"
	"github.com/yungbote/studypath-backend/internal/types"
	"github.com/yungbote/studypath-backend/internal/utils"
)

const edgeRelationPrerequisite = "prerequisite"

// GraphService owns the per-kb prerequisite DAG: cache-first reads,
// LLM-backed inference with a deterministic fallback, and atomic
// replacement of the persisted edge set.
type GraphService interface {
	// GetGraph returns the persisted edge set without triggering a build.
	GetGraph(ctx context.Context, userID, kbID uuid.UUID) ([]*types.PrerequisiteEdge, error)
	// BuildGraph returns the kb's edges, building and persisting them
	// first when none exist or force is set.
	BuildGraph(ctx context.Context, userID, kbID uuid.UUID, force bool) ([]*types.PrerequisiteEdge, error)
}

type graphService struct {
	tx        db.TxRunner
	log       *logger.Logger
	keypoints repos.KeypointRepo
	edges     repos.PrerequisiteEdgeRepo
	ai        openai.Client
	cache     cache.Cache

	// builds serializes concurrent builds per kb so the inference call
	// runs at most once and edge writes never interleave.
	builds singleflight.Group
}

func NewGraphService(tx db.TxRunner, baseLog *logger.Logger, keypoints repos.KeypointRepo, edges repos.PrerequisiteEdgeRepo, ai openai.Client, resultCache cache.Cache) GraphService {
	return &graphService{
		tx:        tx,
		log:       baseLog.With("service", "GraphService"),
		keypoints: keypoints,
		edges:     edges,
		ai:        ai,
		cache:     resultCache,
	}
}

func (s *graphService) GetGraph(ctx context.Context, userID, kbID uuid.UUID) ([]*types.PrerequisiteEdge, error) {
	if userID == uuid.Nil || kbID == uuid.Nil {
		return nil, fmt.Errorf("user and kb ids required: %w", apperrors.ErrInvalidArgument)
	}
	return s.edges.GetByKBID(dbctx.Context{Ctx: ctx}, kbID)
}

func (s *graphService) BuildGraph(ctx context.Context, userID, kbID uuid.UUID, force bool) ([]*types.PrerequisiteEdge, error) {
	if userID == uuid.Nil || kbID == uuid.Nil {
		return nil, fmt.Errorf("user and kb ids required: %w", apperrors.ErrInvalidArgument)
	}

	if !force {
		existing, err := s.edges.GetByKBID(dbctx.Context{Ctx: ctx}, kbID)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return existing, nil
		}
	}

	v, err, _ := s.builds.Do(kbID.String(), func() (interface{}, error) {
		return s.buildLocked(ctx, userID, kbID, force)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*types.PrerequisiteEdge), nil
}

func (s *graphService) buildLocked(ctx context.Context, userID, kbID uuid.UUID, force bool) ([]*types.PrerequisiteEdge, error) {
	// A queued duplicate build may land after the winner persisted.
	if !force {
		existing, err := s.edges.GetByKBID(dbctx.Context{Ctx: ctx}, kbID)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return existing, nil
		}
	}

	rows, err := s.keypoints.GetByUserAndKB(dbctx.Context{Ctx: ctx}, userID, kbID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("knowledge base %s: %w", kbID, apperrors.ErrNotFound)
	}

	docs := map[uuid.UUID]bool{}
	for _, r := range rows {
		docs[r.DocumentID] = true
	}

	var pairs []edgePair
	if len(docs) <= 1 {
		pairs = chainPairs(rows)
	} else {
		inferred, inferErr := s.inferPairs(ctx, rows)
		if inferErr != nil {
			s.log.Warn("edge inference failed, falling back to sequential chain", "kb_id", kbID, "error", inferErr)
			pairs = chainPairs(rows)
		} else {
			pairs = validatePairs(inferred, rows)
		}
	}

	accepted := acceptAcyclic(pairs)

	edgeRows := make([]*types.PrerequisiteEdge, 0, len(accepted))
	for _, p := range accepted {
		edgeRows = append(edgeRows, &types.PrerequisiteEdge{
			ID:              uuid.New(),
			KnowledgeBaseID: kbID,
			FromKeypointID:  p.From,
			ToKeypointID:    p.To,
			Relation:        edgeRelationPrerequisite,
			Confidence:      1,
		})
	}

	persistErr := s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		if err := advisoryXactLock(dbc.Tx, "prereq_graph_build", kbID); err != nil {
			return err
		}
		return s.edges.ReplaceForKB(dbc, kbID, edgeRows)
	})
	if persistErr != nil {
		// A racing build from another process can win the unique index;
		// its result is as good as ours.
		if repos.IsUniqueViolation(persistErr, "") {
			return s.edges.GetByKBID(dbctx.Context{Ctx: ctx}, kbID)
		}
		return nil, persistErr
	}

	if force && s.cache != nil {
		if err := s.cache.Delete(ctx, pathCacheKey(kbID)); err != nil {
			s.log.Warn("path cache invalidation failed", "kb_id", kbID, "error", err)
		}
	}

	s.log.Info("prerequisite graph built",
		"kb_id", kbID,
		"keypoints", len(rows),
		"documents", len(docs),
		"edges", len(edgeRows),
		"force", force,
	)
	return edgeRows, nil
}

type edgePair struct {
	From uuid.UUID
	To   uuid.UUID
}

type rawEdge struct {
	FromID string
	ToID   string
}

// chainPairs produces the deterministic fallback graph: a strict chain
// over keypoints in (document, creation) order.
func chainPairs(rows []*types.Keypoint) []edgePair {
	ordered := make([]*types.Keypoint, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].DocumentID != ordered[j].DocumentID {
			return ordered[i].DocumentID.String() < ordered[j].DocumentID.String()
		}
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID.String() < ordered[j].ID.String()
	})

	var pairs []edgePair
	for i := 0; i+1 < len(ordered); i++ {
		pairs = append(pairs, edgePair{From: ordered[i].ID, To: ordered[i+1].ID})
	}
	return pairs
}

func (s *graphService) inferPairs(ctx context.Context, rows []*types.Keypoint) ([]rawEdge, error) {
	if s.ai == nil {
		return nil, fmt.Errorf("inference client unavailable")
	}

	timeoutSec := utils.GetEnvAsInt("GRAPH_INFERENCE_TIMEOUT_SECONDS", 60, nil)
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	system := "You analyze study concepts extracted from a learner's documents and identify prerequisite relations. " +
		"An edge means the 'from' concept must be understood before the 'to' concept. " +
		"Only relate concepts with a genuine dependency; do not invent ids."

	var b strings.Builder
	b.WriteString("Concepts grouped by source document. Each line is \"[id] text\".\n")
	byDoc := map[uuid.UUID][]*types.Keypoint{}
	var docOrder []uuid.UUID
	for _, r := range rows {
		if _, ok := byDoc[r.DocumentID]; !ok {
			docOrder = append(docOrder, r.DocumentID)
		}
		byDoc[r.DocumentID] = append(byDoc[r.DocumentID], r)
	}
	for _, docID := range docOrder {
		name := strings.TrimSpace(byDoc[docID][0].DocumentName)
		if name == "" {
			name = docID.String()
		}
		fmt.Fprintf(&b, "\nDocument: %s\n", name)
		for _, r := range byDoc[docID] {
			fmt.Fprintf(&b, "[%s] %s\n", r.ID, r.Text)
		}
	}
	b.WriteString("\nReturn every prerequisite relation as {from_id, to_id} pairs.\n")

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"edges": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"from_id": map[string]any{"type": "string"},
						"to_id":   map[string]any{"type": "string"},
					},
					"required": []string{"from_id", "to_id"},
				},
			},
		},
		"required": []string{"edges"},
	}

	obj, err := s.ai.GenerateJSON(callCtx, system, b.String(), "prerequisite_edges", schema)
	if err != nil {
		return nil, err
	}
	return parsePrerequisiteEdges(obj)
}

// parsePrerequisiteEdges treats the payload as untrusted: a missing or
// non-list edges field is a failure, malformed items are skipped.
func parsePrerequisiteEdges(obj map[string]any) ([]rawEdge, error) {
	raw, ok := obj["edges"]
	if !ok || raw == nil {
		return nil, fmt.Errorf("inference payload missing edges list")
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("inference payload edges is not a list")
	}
	out := make([]rawEdge, 0, len(arr))
	for _, x := range arr {
		m, ok := x.(map[string]any)
		if !ok {
			continue
		}
		from := strings.TrimSpace(stringFromAny(m["from_id"]))
		to := strings.TrimSpace(stringFromAny(m["to_id"]))
		if from == "" || to == "" {
			continue
		}
		out = append(out, rawEdge{FromID: from, ToID: to})
	}
	return out, nil
}

// validatePairs drops unparseable/unknown ids and self-loops, then
// deduplicates preserving first-seen order.
func validatePairs(raw []rawEdge, rows []*types.Keypoint) []edgePair {
	known := map[uuid.UUID]bool{}
	for _, r := range rows {
		known[r.ID] = true
	}

	var out []edgePair
	seen := map[edgePair]bool{}
	for _, e := range raw {
		from, err := uuid.Parse(e.FromID)
		if err != nil {
			continue
		}
		to, err := uuid.Parse(e.ToID)
		if err != nil {
			continue
		}
		if from == to || !known[from] || !known[to] {
			continue
		}
		p := edgePair{From: from, To: to}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// acceptAcyclic processes candidates in order, rejecting any edge whose
// target can already reach its source. Acceptance depends only on input
// order, so the resulting DAG is deterministic.
func acceptAcyclic(pairs []edgePair) []edgePair {
	adj := map[uuid.UUID][]uuid.UUID{}
	var accepted []edgePair
	for _, p := range pairs {
		if canReach(adj, p.To, p.From) {
			continue
		}
		adj[p.From] = append(adj[p.From], p.To)
		accepted = append(accepted, p)
	}
	return accepted
}

func canReach(adj map[uuid.UUID][]uuid.UUID, from, to uuid.UUID) bool {
	if from == to {
		return true
	}
	visited := map[uuid.UUID]bool{from: true}
	queue := []uuid.UUID{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

func advisoryXactLock(tx *gorm.DB, namespace string, id uuid.UUID) error {
	if tx == nil || namespace == "" || id == uuid.Nil {
		return nil
	}
	key := advisoryKey64(namespace, id)
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", key).Error
}

func advisoryKey64(namespace string, id uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(id.String()))
	return int64(h.Sum64())
}

func stringFromAny(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return ""
	}
}
