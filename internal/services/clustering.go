package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/studypath-backend/internal/clients/openai"
	"github.com/yungbote/studypath-backend/internal/clients/pinecone"
	"github.com/yungbote/studypath-backend/internal/data/repos"
	"github.com/yungbote/studypath-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/studypath-backend/internal/pkg/errors"
	"github.com/yungbote/studypath-backend/internal/pkg/logger"
	"github.com/yungbote/studypath-backend/internal/types"
	"github.com/yungbote/studypath-backend/internal/utils"
)

// keypointVectorNamespace is where the extraction pipeline upserts
// keypoint embeddings; cluster merge queries read from it.
const keypointVectorNamespace = "keypoints"

// KeypointCluster groups keypoints judged to restate the same concept.
// Clusters are recomputed on demand and never persisted.
type KeypointCluster struct {
	Representative *types.Keypoint
	Members        []*types.Keypoint

	// Aggregates over members: max mastery, summed counters.
	MasteryLevel  float64
	AttemptCount  int
	CorrectCount  int
	DocumentIDs   []uuid.UUID
	DocumentNames []string
}

type ClusteringService interface {
	// BuildClusters computes the kb's current cluster partition: exact
	// grouping by comparison key, then a cross-document semantic merge
	// when the embedding collaborator is reachable.
	BuildClusters(ctx context.Context, userID, kbID uuid.UUID) ([]*KeypointCluster, error)
	// CollapseToRepresentatives maps raw keypoint ids onto their cluster
	// representatives, preserving order and dropping duplicates.
	CollapseToRepresentatives(ctx context.Context, userID, kbID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error)
}

type clusteringService struct {
	log       *logger.Logger
	keypoints repos.KeypointRepo
	ai        openai.Client
	vec       pinecone.VectorStore
}

func NewClusteringService(baseLog *logger.Logger, keypoints repos.KeypointRepo, ai openai.Client, vec pinecone.VectorStore) ClusteringService {
	return &clusteringService{
		log:       baseLog.With("service", "ClusteringService"),
		keypoints: keypoints,
		ai:        ai,
		vec:       vec,
	}
}

func (s *clusteringService) BuildClusters(ctx context.Context, userID, kbID uuid.UUID) ([]*KeypointCluster, error) {
	if userID == uuid.Nil || kbID == uuid.Nil {
		return nil, fmt.Errorf("user and kb ids required: %w", apperrors.ErrInvalidArgument)
	}
	rows, err := s.keypoints.GetByUserAndKB(dbctx.Context{Ctx: ctx}, userID, kbID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("knowledge base %s: %w", kbID, apperrors.ErrNotFound)
	}

	groups := exactClusterGroups(rows)

	docs := map[uuid.UUID]bool{}
	for _, r := range rows {
		docs[r.DocumentID] = true
	}
	if len(docs) > 1 {
		groups = s.semanticMerge(ctx, kbID, rows, groups)
	}

	out := make([]*KeypointCluster, 0, len(groups))
	for _, g := range groups {
		out = append(out, newCluster(g))
	}
	return out, nil
}

func (s *clusteringService) CollapseToRepresentatives(ctx context.Context, userID, kbID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error) {
	clusters, err := s.BuildClusters(ctx, userID, kbID)
	if err != nil {
		return nil, err
	}
	return CollapseWithClusters(clusters, ids), nil
}

// CollapseWithClusters is the pure id-collapse over a fixed partition.
// Ids outside the partition map to themselves, so collapsing is total and
// idempotent.
func CollapseWithClusters(clusters []*KeypointCluster, ids []uuid.UUID) []uuid.UUID {
	repByMember := map[uuid.UUID]uuid.UUID{}
	for _, c := range clusters {
		for _, m := range c.Members {
			repByMember[m.ID] = c.Representative.ID
		}
	}

	out := make([]uuid.UUID, 0, len(ids))
	seen := map[uuid.UUID]bool{}
	for _, id := range ids {
		rep, ok := repByMember[id]
		if !ok {
			rep = id
		}
		if seen[rep] {
			continue
		}
		seen[rep] = true
		out = append(out, rep)
	}
	return out
}

// exactClusterGroups groups by comparison key. Keypoints with an empty key
// stay singletons. Input order (creation order) fixes group order.
func exactClusterGroups(rows []*types.Keypoint) [][]*types.Keypoint {
	var groups [][]*types.Keypoint
	byKey := map[string]int{}
	for _, r := range rows {
		key := ComparisonKey(r.Text)
		if key == "" {
			groups = append(groups, []*types.Keypoint{r})
			continue
		}
		if idx, ok := byKey[key]; ok {
			groups[idx] = append(groups[idx], r)
			continue
		}
		byKey[key] = len(groups)
		groups = append(groups, []*types.Keypoint{r})
	}
	return groups
}

// semanticMerge unions exact clusters whose representatives sit close in
// embedding space, come from different documents, and pass a lexical gate.
// Every failure path degrades to the exact clusters.
func (s *clusteringService) semanticMerge(ctx context.Context, kbID uuid.UUID, rows []*types.Keypoint, groups [][]*types.Keypoint) [][]*types.Keypoint {
	if s.ai == nil || s.vec == nil {
		return groups
	}

	maxDistance := utils.GetEnvAsFloat("KEYPOINT_SEMANTIC_MAX_DISTANCE", 0.22, nil)
	jaccardMin := utils.GetEnvAsFloat("KEYPOINT_BIGRAM_JACCARD_MIN", 0.45, nil)
	topK := utils.GetEnvAsInt("KEYPOINT_SEMANTIC_TOP_K", 6, nil)
	conc := utils.GetEnvAsInt("KEYPOINT_SEMANTIC_CONCURRENCY", 8, nil)
	if conc < 1 {
		conc = 1
	}
	timeoutMS := utils.GetEnvAsInt("KEYPOINT_SEMANTIC_TIMEOUT_MS", 2500, nil)
	if timeoutMS < 250 {
		timeoutMS = 250
	}

	type candidate struct {
		groupIdx int
		rep      *types.Keypoint
		key      string
	}
	var candidates []candidate
	for i, g := range groups {
		rep := earliestMember(g)
		key := ComparisonKey(rep.Text)
		// Very short keys produce degenerate neighbors.
		if len([]rune(key)) < 4 {
			continue
		}
		candidates = append(candidates, candidate{groupIdx: i, rep: rep, key: key})
	}
	if len(candidates) == 0 {
		return groups
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = NormalizeKeypointText(c.rep.Text)
	}
	embCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	embs, err := s.ai.Embed(embCtx, texts)
	cancel()
	if err != nil || len(embs) != len(candidates) {
		s.log.Warn("semantic merge skipped: embedding failed", "kb_id", kbID, "error", err)
		return groups
	}

	groupByKeypoint := map[uuid.UUID]int{}
	for i, g := range groups {
		for _, m := range g {
			groupByKeypoint[m.ID] = i
		}
	}
	rowByID := map[uuid.UUID]*types.Keypoint{}
	for _, r := range rows {
		rowByID[r.ID] = r
	}

	uf := newUnionFind(len(groups))
	var mu sync.Mutex

	filter := map[string]any{"kb_id": kbID.String(), "type": "keypoint"}
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(conc)
	for i := range candidates {
		i := i
		eg.Go(func() error {
			c := candidates[i]
			qctx, cancel := context.WithTimeout(egctx, time.Duration(timeoutMS)*time.Millisecond)
			matches, err := s.vec.QueryMatches(qctx, keypointVectorNamespace, embs[i], topK, filter)
			cancel()
			if err != nil {
				// Optional collaborator: skip this representative.
				return nil
			}
			for _, m := range matches {
				neighborID := parseKeypointVectorID(m.ID)
				if neighborID == uuid.Nil || neighborID == c.rep.ID {
					continue
				}
				if 1-m.Score > maxDistance {
					continue
				}
				neighbor := rowByID[neighborID]
				if neighbor == nil {
					continue
				}
				if neighbor.DocumentID == c.rep.DocumentID {
					continue
				}
				neighborKey := ComparisonKey(neighbor.Text)
				if !lexicalGate(c.key, neighborKey, jaccardMin) {
					continue
				}
				j, ok := groupByKeypoint[neighborID]
				if !ok {
					continue
				}
				mu.Lock()
				uf.union(c.groupIdx, j)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	// Recompute groups from the union-find partition, keeping the first
	// appearance order of each merged set.
	merged := map[int][]*types.Keypoint{}
	var order []int
	for i, g := range groups {
		root := uf.find(i)
		if _, ok := merged[root]; !ok {
			order = append(order, root)
		}
		merged[root] = append(merged[root], g...)
	}
	out := make([][]*types.Keypoint, 0, len(order))
	for _, root := range order {
		out = append(out, merged[root])
	}
	return out
}

// lexicalGate passes on substring containment either way, or enough
// character-bigram overlap.
func lexicalGate(a, b string, jaccardMin float64) bool {
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	return bigramJaccard(a, b) >= jaccardMin
}

func bigramJaccard(a, b string) float64 {
	as := charBigrams(a)
	bs := charBigrams(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	inter := 0
	for g := range as {
		if bs[g] {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func charBigrams(s string) map[string]bool {
	runes := []rune(s)
	out := map[string]bool{}
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])] = true
	}
	return out
}

func newCluster(members []*types.Keypoint) *KeypointCluster {
	rep := earliestMember(members)

	c := &KeypointCluster{
		Representative: rep,
		Members:        members,
	}
	seenDocs := map[uuid.UUID]bool{}
	seenNames := map[string]bool{}
	for _, m := range members {
		if l := clamp01(m.MasteryLevel); l > c.MasteryLevel {
			c.MasteryLevel = l
		}
		c.AttemptCount += m.AttemptCount
		c.CorrectCount += m.CorrectCount
		if !seenDocs[m.DocumentID] {
			seenDocs[m.DocumentID] = true
			c.DocumentIDs = append(c.DocumentIDs, m.DocumentID)
		}
		if name := strings.TrimSpace(m.DocumentName); name != "" && !seenNames[name] {
			seenNames[name] = true
			c.DocumentNames = append(c.DocumentNames, name)
		}
	}
	return c
}

// earliestMember picks the representative: earliest created_at, ties
// broken by lowest id.
func earliestMember(members []*types.Keypoint) *types.Keypoint {
	rep := members[0]
	for _, m := range members[1:] {
		if m.CreatedAt.Before(rep.CreatedAt) {
			rep = m
			continue
		}
		if m.CreatedAt.Equal(rep.CreatedAt) && m.ID.String() < rep.ID.String() {
			rep = m
		}
	}
	return rep
}

func parseKeypointVectorID(id string) uuid.UUID {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "keypoint:")
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// -------------------- text normalization --------------------

var (
	enumeratorPrefixRe = regexp.MustCompile(`^(?:[\(（][0-9a-zA-Z一二三四五六七八九十]{1,3}[\)）]|[0-9]{1,3}[\.\)、:：]|[一二三四五六七八九十百]{1,3}[、\.。:：]|[a-zA-Z][\.\)](?:\s|$)|[-*•·]+)\s*`)
	whitespaceRe       = regexp.MustCompile(`\s+`)
)

// NormalizeKeypointText case-folds, strips list-marker prefixes, collapses
// whitespace and drops trailing punctuation.
func NormalizeKeypointText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for range [3]struct{}{} {
		stripped := enumeratorPrefixRe.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = strings.TrimSpace(stripped)
	}
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimRight(s, ".,;:!?。，；：！？、 ")
	return s
}

// ComparisonKey is the strict dedupe key: normalized text with all
// punctuation and spacing removed.
func ComparisonKey(s string) string {
	s = NormalizeKeypointText(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// -------------------- union-find --------------------

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}
