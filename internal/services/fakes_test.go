package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/studypath-backend/internal/clients/pinecone"
	"github.com/yungbote/studypath-backend/internal/pkg/dbctx"
	"github.com/yungbote/studypath-backend/internal/types"
)

// fakeTxRunner runs the body without a real transaction so service logic
// can be exercised against in-memory repos.
type fakeTxRunner struct{}

func (fakeTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	return fn(dbctx.Context{Ctx: ctx})
}

// -------------------- keypoint repo --------------------

type fakeKeypointRepo struct {
	mu   sync.Mutex
	rows []*types.Keypoint

	updateCalls int
}

func newFakeKeypointRepo(rows ...*types.Keypoint) *fakeKeypointRepo {
	return &fakeKeypointRepo{rows: rows}
}

func (r *fakeKeypointRepo) Create(dbc dbctx.Context, rows []*types.Keypoint) ([]*types.Keypoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, rows...)
	return rows, nil
}

func (r *fakeKeypointRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Keypoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			return row, nil
		}
	}
	return nil, nil
}

func (r *fakeKeypointRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Keypoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*types.Keypoint
	for _, row := range r.rows {
		if want[row.ID] {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeKeypointRepo) GetByUserAndKB(dbc dbctx.Context, userID, kbID uuid.UUID) ([]*types.Keypoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Keypoint
	for _, row := range r.rows {
		if row.UserID == userID && row.KnowledgeBaseID == kbID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeKeypointRepo) GetByUserKBAndDocument(dbc dbctx.Context, userID, kbID, documentID uuid.UUID) ([]*types.Keypoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Keypoint
	for _, row := range r.rows {
		if row.UserID == userID && row.KnowledgeBaseID == kbID && row.DocumentID == documentID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeKeypointRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Keypoint, error) {
	return r.GetByID(dbc, id)
}

func (r *fakeKeypointRepo) UpdateMasteryFields(dbc dbctx.Context, id uuid.UUID, masteryLevel float64, attemptCount, correctCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	for _, row := range r.rows {
		if row.ID == id {
			row.MasteryLevel = masteryLevel
			row.AttemptCount = attemptCount
			row.CorrectCount = correctCount
			return nil
		}
	}
	return nil
}

// -------------------- prerequisite edge repo --------------------

type fakeEdgeRepo struct {
	mu   sync.Mutex
	rows []*types.PrerequisiteEdge

	replaceCalls int
	replaceErr   error
}

func newFakeEdgeRepo(rows ...*types.PrerequisiteEdge) *fakeEdgeRepo {
	return &fakeEdgeRepo{rows: rows}
}

func (r *fakeEdgeRepo) Create(dbc dbctx.Context, rows []*types.PrerequisiteEdge) ([]*types.PrerequisiteEdge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, rows...)
	return rows, nil
}

func (r *fakeEdgeRepo) GetByKBID(dbc dbctx.Context, kbID uuid.UUID) ([]*types.PrerequisiteEdge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.PrerequisiteEdge
	for _, row := range r.rows {
		if row.KnowledgeBaseID == kbID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeEdgeRepo) CountByKBID(dbc dbctx.Context, kbID uuid.UUID) (int64, error) {
	rows, _ := r.GetByKBID(dbc, kbID)
	return int64(len(rows)), nil
}

func (r *fakeEdgeRepo) DeleteByKBID(dbc dbctx.Context, kbID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*types.PrerequisiteEdge
	for _, row := range r.rows {
		if row.KnowledgeBaseID != kbID {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	return nil
}

func (r *fakeEdgeRepo) ReplaceForKB(dbc dbctx.Context, kbID uuid.UUID, rows []*types.PrerequisiteEdge) error {
	r.mu.Lock()
	r.replaceCalls++
	err := r.replaceErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if err := r.DeleteByKBID(dbc, kbID); err != nil {
		return err
	}
	_, err = r.Create(dbc, rows)
	return err
}

// -------------------- openai client --------------------

type fakeOpenAI struct {
	mu sync.Mutex

	embedFn    func(inputs []string) ([][]float32, error)
	generateFn func(system, user string) (map[string]any, error)

	embedCalls    int
	generateCalls int
}

func (f *fakeOpenAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	fn := f.embedFn
	f.mu.Unlock()
	if fn == nil {
		out := make([][]float32, len(inputs))
		for i := range out {
			out[i] = []float32{float32(i)}
		}
		return out, nil
	}
	return fn(inputs)
}

func (f *fakeOpenAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	f.mu.Lock()
	f.generateCalls++
	fn := f.generateFn
	f.mu.Unlock()
	if fn == nil {
		return map[string]any{"edges": []any{}}, nil
	}
	return fn(system, user)
}

func (f *fakeOpenAI) generateCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateCalls
}

// -------------------- vector store --------------------

type fakeVectorStore struct {
	mu sync.Mutex

	// queryFn keys on the query embedding. The default fakeOpenAI.Embed
	// sets each embedding's first component to the input's index.
	queryFn func(q []float32) ([]pinecone.Match, error)
}

func (f *fakeVectorStore) QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]pinecone.Match, error) {
	f.mu.Lock()
	fn := f.queryFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(q)
}

// -------------------- cache --------------------

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte

	deletes int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]byte{}}
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = val
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.entries, key)
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// -------------------- fixtures --------------------

func newTestKeypoint(userID, kbID, docID uuid.UUID, text string, createdAt time.Time) *types.Keypoint {
	return &types.Keypoint{
		ID:              uuid.New(),
		UserID:          userID,
		KnowledgeBaseID: kbID,
		DocumentID:      docID,
		Text:            text,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}
