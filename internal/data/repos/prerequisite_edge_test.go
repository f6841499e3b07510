package repos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/studypath-backend/internal/data/repos/testutil"
	"github.com/yungbote/studypath-backend/internal/pkg/dbctx"
	"github.com/yungbote/studypath-backend/internal/types"
)

func TestPrerequisiteEdgeRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewPrerequisiteEdgeRepo(db, testutil.Logger(t))

	u := testutil.SeedUser(t, ctx, tx, "edgerepo@example.com")
	kb := testutil.SeedKnowledgeBase(t, ctx, tx, u.ID)
	doc := testutil.SeedDocument(t, ctx, tx, kb.ID, "notes.pdf")

	base := time.Now().UTC().Add(-time.Hour)
	k1 := testutil.SeedKeypoint(t, ctx, tx, u.ID, kb.ID, doc.ID, "Sets", base)
	k2 := testutil.SeedKeypoint(t, ctx, tx, u.ID, kb.ID, doc.ID, "Functions", base.Add(time.Minute))
	k3 := testutil.SeedKeypoint(t, ctx, tx, u.ID, kb.ID, doc.ID, "Limits", base.Add(2*time.Minute))

	edge := func(from, to uuid.UUID) *types.PrerequisiteEdge {
		return &types.PrerequisiteEdge{
			ID:              uuid.New(),
			KnowledgeBaseID: kb.ID,
			FromKeypointID:  from,
			ToKeypointID:    to,
			Relation:        "prerequisite",
			Confidence:      1,
		}
	}

	if _, err := repo.Create(dbc, []*types.PrerequisiteEdge{edge(k1.ID, k2.ID), edge(k2.ID, k3.ID)}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if n, err := repo.CountByKBID(dbc, kb.ID); err != nil || n != 2 {
		t.Fatalf("CountByKBID: n=%d err=%v", n, err)
	}
	rows, err := repo.GetByKBID(dbc, kb.ID)
	if err != nil || len(rows) != 2 {
		t.Fatalf("GetByKBID: err=%v len=%d", err, len(rows))
	}

	// Duplicate (kb, from, to) pairs are rejected by the unique index.
	_, err = repo.Create(dbc, []*types.PrerequisiteEdge{edge(k1.ID, k2.ID)})
	if err == nil || !IsUniqueViolation(err, "") {
		t.Fatalf("duplicate edge: expected unique violation, got %v", err)
	}

	// The duplicate insert aborted the transaction; start fresh for the
	// replace contract.
	tx2 := testutil.Tx(t, db)
	dbc2 := dbctx.Context{Ctx: ctx, Tx: tx2}
	u2 := testutil.SeedUser(t, ctx, tx2, "edgerepo2@example.com")
	kb2 := testutil.SeedKnowledgeBase(t, ctx, tx2, u2.ID)
	doc2 := testutil.SeedDocument(t, ctx, tx2, kb2.ID, "notes2.pdf")
	a := testutil.SeedKeypoint(t, ctx, tx2, u2.ID, kb2.ID, doc2.ID, "A", base)
	b := testutil.SeedKeypoint(t, ctx, tx2, u2.ID, kb2.ID, doc2.ID, "B", base.Add(time.Minute))
	c := testutil.SeedKeypoint(t, ctx, tx2, u2.ID, kb2.ID, doc2.ID, "C", base.Add(2*time.Minute))

	mk := func(from, to uuid.UUID) *types.PrerequisiteEdge {
		return &types.PrerequisiteEdge{
			ID:              uuid.New(),
			KnowledgeBaseID: kb2.ID,
			FromKeypointID:  from,
			ToKeypointID:    to,
			Relation:        "prerequisite",
			Confidence:      1,
		}
	}
	if _, err := repo.Create(dbc2, []*types.PrerequisiteEdge{mk(a.ID, b.ID)}); err != nil {
		t.Fatalf("seed initial edge: %v", err)
	}
	if err := repo.ReplaceForKB(dbc2, kb2.ID, []*types.PrerequisiteEdge{mk(a.ID, c.ID), mk(b.ID, c.ID)}); err != nil {
		t.Fatalf("ReplaceForKB: %v", err)
	}
	rows, err = repo.GetByKBID(dbc2, kb2.ID)
	if err != nil || len(rows) != 2 {
		t.Fatalf("GetByKBID after replace: err=%v len=%d", err, len(rows))
	}
	for _, e := range rows {
		if e.ToKeypointID != c.ID {
			t.Fatalf("stale edge survived replace: %v -> %v", e.FromKeypointID, e.ToKeypointID)
		}
	}

	if err := repo.DeleteByKBID(dbc2, kb2.ID); err != nil {
		t.Fatalf("DeleteByKBID: %v", err)
	}
	if n, err := repo.CountByKBID(dbc2, kb2.ID); err != nil || n != 0 {
		t.Fatalf("CountByKBID after delete: n=%d err=%v", n, err)
	}
}
