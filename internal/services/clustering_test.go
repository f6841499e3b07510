package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/studypath-backend/internal/clients/pinecone"
	"github.com/yungbote/studypath-backend/internal/data/repos/testutil"
	apperrors "github.com/yungbote/studypath-backend/internal/pkg/errors"
	"github.com/yungbote/studypath-backend/internal/types"
)

func TestNormalizeKeypointText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  The Matrix   Determinant. ", "the matrix determinant"},
		{"1. Eigenvalues", "eigenvalues"},
		{"(a) Basis vectors", "basis vectors"},
		{"- bullet point", "bullet point"},
		{"3) 2. nested markers", "nested markers"},
		{"一、矩阵的秩。", "矩阵的秩"},
		{"What is a limit?", "what is a limit"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeKeypointText(c.in); got != c.want {
			t.Fatalf("NormalizeKeypointText(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestComparisonKey(t *testing.T) {
	a := ComparisonKey("Matrix determinant")
	b := ComparisonKey("  matrix   DETERMINANT. ")
	if a == "" || a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	if got := ComparisonKey("L'Hôpital's rule!"); got != "lhôpitalsrule" {
		t.Fatalf("ComparisonKey = %q", got)
	}
	if got := ComparisonKey("   "); got != "" {
		t.Fatalf("blank input key = %q, want empty", got)
	}
}

func TestBigramJaccard(t *testing.T) {
	if got := bigramJaccard("gradient", "gradient"); got != 1 {
		t.Fatalf("identical strings = %v, want 1", got)
	}
	if got := bigramJaccard("abcd", "wxyz"); got != 0 {
		t.Fatalf("disjoint strings = %v, want 0", got)
	}
	if got := bigramJaccard("a", "ab"); got != 0 {
		t.Fatalf("degenerate input = %v, want 0", got)
	}
	if got := bigramJaccard("gradient descent", "gradient descents"); got < 0.45 {
		t.Fatalf("near-identical strings = %v, want >= 0.45", got)
	}
}

func TestUnionFind(t *testing.T) {
	uf := newUnionFind(5)
	uf.union(0, 1)
	uf.union(3, 4)
	if uf.find(0) != uf.find(1) {
		t.Fatalf("0 and 1 should share a root")
	}
	if uf.find(0) == uf.find(2) {
		t.Fatalf("0 and 2 should not share a root")
	}
	uf.union(1, 3)
	if uf.find(0) != uf.find(4) {
		t.Fatalf("transitive union failed")
	}
}

func TestBuildClustersExactDedup(t *testing.T) {
	log := testutil.Logger(t)
	userID, kbID, docID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	a := newTestKeypoint(userID, kbID, docID, "Matrix determinant", now)
	a.MasteryLevel = 0.4
	a.AttemptCount = 2
	a.CorrectCount = 1
	a.DocumentName = "linear_algebra.pdf"
	b := newTestKeypoint(userID, kbID, docID, "  matrix   DETERMINANT. ", now.Add(time.Minute))
	b.MasteryLevel = 0.7
	b.AttemptCount = 3
	b.CorrectCount = 2
	b.DocumentName = "linear_algebra.pdf"
	c := newTestKeypoint(userID, kbID, docID, "Eigenvalues", now.Add(2*time.Minute))

	repo := newFakeKeypointRepo(a, b, c)
	svc := NewClusteringService(log, repo, &fakeOpenAI{}, nil)

	clusters, err := svc.BuildClusters(context.Background(), userID, kbID)
	if err != nil {
		t.Fatalf("BuildClusters failed: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}

	merged := clusters[0]
	if merged.Representative.ID != a.ID {
		t.Fatalf("representative should be the earliest member")
	}
	if len(merged.Members) != 2 {
		t.Fatalf("merged cluster has %d members, want 2", len(merged.Members))
	}
	if !almostEqual(merged.MasteryLevel, 0.7) {
		t.Fatalf("cluster mastery = %v, want max 0.7", merged.MasteryLevel)
	}
	if merged.AttemptCount != 5 || merged.CorrectCount != 3 {
		t.Fatalf("cluster counters = (%d, %d), want (5, 3)", merged.AttemptCount, merged.CorrectCount)
	}
	if len(merged.DocumentNames) != 1 || merged.DocumentNames[0] != "linear_algebra.pdf" {
		t.Fatalf("cluster document names = %v", merged.DocumentNames)
	}
}

func TestBuildClustersEmptyKB(t *testing.T) {
	log := testutil.Logger(t)
	svc := NewClusteringService(log, newFakeKeypointRepo(), &fakeOpenAI{}, nil)

	_, err := svc.BuildClusters(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err = svc.BuildClusters(context.Background(), uuid.Nil, uuid.New())
	if !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestBuildClustersSemanticMerge(t *testing.T) {
	log := testutil.Logger(t)
	userID, kbID := uuid.New(), uuid.New()
	doc1, doc2 := uuid.New(), uuid.New()
	now := time.Now()

	a := newTestKeypoint(userID, kbID, doc1, "Gradient descent optimization", now)
	a.DocumentName = "optimization.pdf"
	b := newTestKeypoint(userID, kbID, doc2, "Gradient descent", now.Add(time.Minute))
	b.DocumentName = "ml_basics.pdf"
	repo := newFakeKeypointRepo(a, b)

	vec := &fakeVectorStore{
		queryFn: func(q []float32) ([]pinecone.Match, error) {
			// Candidate 0 is a's group; its nearest neighbor is b.
			if len(q) > 0 && q[0] == 0 {
				return []pinecone.Match{{ID: "keypoint:" + b.ID.String(), Score: 0.92}}, nil
			}
			return nil, nil
		},
	}
	svc := NewClusteringService(log, repo, &fakeOpenAI{}, vec)

	clusters, err := svc.BuildClusters(context.Background(), userID, kbID)
	if err != nil {
		t.Fatalf("BuildClusters failed: %v", err)
	}
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1 after semantic merge", len(clusters))
	}
	cl := clusters[0]
	if cl.Representative.ID != a.ID {
		t.Fatalf("representative should be the earliest member")
	}
	if len(cl.Members) != 2 {
		t.Fatalf("merged cluster has %d members, want 2", len(cl.Members))
	}
	if len(cl.DocumentIDs) != 2 || len(cl.DocumentNames) != 2 {
		t.Fatalf("cluster docs = %v / %v, want both documents", cl.DocumentIDs, cl.DocumentNames)
	}
}

func TestBuildClustersSemanticMergeRejectsFarNeighbors(t *testing.T) {
	log := testutil.Logger(t)
	userID, kbID := uuid.New(), uuid.New()
	doc1, doc2 := uuid.New(), uuid.New()
	now := time.Now()

	a := newTestKeypoint(userID, kbID, doc1, "Gradient descent optimization", now)
	b := newTestKeypoint(userID, kbID, doc2, "Gradient descent", now.Add(time.Minute))
	repo := newFakeKeypointRepo(a, b)

	// Score 0.6 means distance 0.4, past the merge threshold.
	vec := &fakeVectorStore{
		queryFn: func(q []float32) ([]pinecone.Match, error) {
			if len(q) > 0 && q[0] == 0 {
				return []pinecone.Match{{ID: "keypoint:" + b.ID.String(), Score: 0.6}}, nil
			}
			return nil, nil
		},
	}
	svc := NewClusteringService(log, repo, &fakeOpenAI{}, vec)

	clusters, err := svc.BuildClusters(context.Background(), userID, kbID)
	if err != nil {
		t.Fatalf("BuildClusters failed: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2 when neighbor is too far", len(clusters))
	}
}

func TestBuildClustersSemanticMergeSkipsSameDocument(t *testing.T) {
	log := testutil.Logger(t)
	userID, kbID := uuid.New(), uuid.New()
	doc1, doc2 := uuid.New(), uuid.New()
	now := time.Now()

	a := newTestKeypoint(userID, kbID, doc1, "Gradient descent optimization", now)
	b := newTestKeypoint(userID, kbID, doc1, "Gradient descent", now.Add(time.Minute))
	c := newTestKeypoint(userID, kbID, doc2, "Backpropagation", now.Add(2*time.Minute))
	repo := newFakeKeypointRepo(a, b, c)

	// a's nearest neighbor is b, but they come from the same document.
	vec := &fakeVectorStore{
		queryFn: func(q []float32) ([]pinecone.Match, error) {
			if len(q) > 0 && q[0] == 0 {
				return []pinecone.Match{{ID: "keypoint:" + b.ID.String(), Score: 0.95}}, nil
			}
			return nil, nil
		},
	}
	svc := NewClusteringService(log, repo, &fakeOpenAI{}, vec)

	clusters, err := svc.BuildClusters(context.Background(), userID, kbID)
	if err != nil {
		t.Fatalf("BuildClusters failed: %v", err)
	}
	if len(clusters) != 3 {
		t.Fatalf("got %d clusters, want 3 when neighbors share a document", len(clusters))
	}
}

func TestBuildClustersDegradesWhenEmbeddingFails(t *testing.T) {
	log := testutil.Logger(t)
	userID, kbID := uuid.New(), uuid.New()
	doc1, doc2 := uuid.New(), uuid.New()
	now := time.Now()

	a := newTestKeypoint(userID, kbID, doc1, "Gradient descent optimization", now)
	b := newTestKeypoint(userID, kbID, doc2, "Gradient descent", now.Add(time.Minute))
	repo := newFakeKeypointRepo(a, b)

	ai := &fakeOpenAI{
		embedFn: func(inputs []string) ([][]float32, error) {
			return nil, fmt.Errorf("embedding upstream unavailable")
		},
	}
	svc := NewClusteringService(log, repo, ai, &fakeVectorStore{})

	clusters, err := svc.BuildClusters(context.Background(), userID, kbID)
	if err != nil {
		t.Fatalf("BuildClusters must degrade, got error: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want the 2 exact clusters", len(clusters))
	}
}

func TestCollapseWithClusters(t *testing.T) {
	userID, kbID, docID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()
	a := newTestKeypoint(userID, kbID, docID, "limits", now)
	b := newTestKeypoint(userID, kbID, docID, "limits again", now.Add(time.Second))
	c := newTestKeypoint(userID, kbID, docID, "derivatives", now.Add(2*time.Second))

	clusters := []*KeypointCluster{
		{Representative: a, Members: []*types.Keypoint{a, b}},
		{Representative: c, Members: []*types.Keypoint{c}},
	}

	outside := uuid.New()
	got := CollapseWithClusters(clusters, []uuid.UUID{b.ID, a.ID, c.ID, outside, b.ID})
	want := []uuid.UUID{a.ID, c.ID, outside}
	if len(got) != len(want) {
		t.Fatalf("collapsed ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("collapsed ids = %v, want %v", got, want)
		}
	}

	// Collapsing an already-collapsed list is a no-op.
	again := CollapseWithClusters(clusters, got)
	if len(again) != len(got) {
		t.Fatalf("collapse is not idempotent: %v vs %v", again, got)
	}
}

func TestParseKeypointVectorID(t *testing.T) {
	id := uuid.New()
	if got := parseKeypointVectorID("keypoint:" + id.String()); got != id {
		t.Fatalf("prefixed id parse = %v, want %v", got, id)
	}
	if got := parseKeypointVectorID(id.String()); got != id {
		t.Fatalf("bare id parse = %v, want %v", got, id)
	}
	if got := parseKeypointVectorID("keypoint:garbage"); got != uuid.Nil {
		t.Fatalf("garbage id parse = %v, want Nil", got)
	}
}
