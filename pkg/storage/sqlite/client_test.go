package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/scopemem-go/pkg/storage"
	sqliteStore "github.com/oceanbase/scopemem-go/pkg/storage/sqlite"
)

func setupSQLiteTest(t *testing.T) storage.Store {
	t.Helper()

	store, err := sqliteStore.NewClient(context.Background(), &sqliteStore.Config{
		DBPath:         filepath.Join(t.TempDir(), "scopemem.db"),
		CollectionName: "memories",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newMemory(id int64, content string) *storage.Memory {
	return &storage.Memory{
		ID:             id,
		OwnerUserID:    "alice",
		OrganizationID: "org1",
		SpaceID:        "s1",
		Visibility:     storage.VisibilitySpace,
		Content:        content,
		ContentHash:    "hash-" + content,
		MemoryType:     storage.TypeFact,
		Importance:     0.5,
		BaseImportance: 0.5,
		Confidence:     0.8,
		ValidFrom:      t0,
		ApprovalStatus: storage.ApprovalApproved,
		Embedding:      []float64{0.1, 0.2, 0.3},
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
}

func TestSQLiteStore_InsertAndGet(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	m := newMemory(1, "API uses v2")
	m.Attributes = map[string]string{"env": "prod"}
	m.SubjectKey = "api-version"
	require.NoError(t, store.InsertMemory(ctx, m))
	assert.Equal(t, int64(1), m.Version)

	got, err := store.GetMemory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "API uses v2", got.Content)
	assert.Equal(t, storage.VisibilitySpace, got.Visibility)
	assert.Equal(t, map[string]string{"env": "prod"}, got.Attributes)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, got.Embedding)
	assert.True(t, got.ValidFrom.Equal(t0))
	assert.Nil(t, got.ValidTo)
	assert.Equal(t, "api-version", got.SubjectKey)

	_, err = store.GetMemory(ctx, 42)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestSQLiteStore_NullEmbedding(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	m := newMemory(1, "no vector yet")
	m.Embedding = nil
	m.EmbeddingPending = true
	require.NoError(t, store.InsertMemory(ctx, m))

	pending, err := store.ListMemories(ctx, &storage.ListOptions{EmbeddingPending: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].Embedding)
	assert.True(t, pending[0].EmbeddingPending)
}

func TestSQLiteStore_DuplicateOpenMemory(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	require.NoError(t, store.InsertMemory(ctx, newMemory(1, "same")))

	err := store.InsertMemory(ctx, newMemory(2, "same"))
	assert.True(t, errors.Is(err, storage.ErrDuplicate))

	found, err := store.FindOpenByHash(ctx, newMemory(0, "same").AnchorKey(), "hash-same")
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.ID)

	// A private copy in another anchor is not a duplicate.
	private := newMemory(3, "same")
	private.Visibility = storage.VisibilityPrivate
	assert.NoError(t, store.InsertMemory(ctx, private))
}

func TestSQLiteStore_ClosedMemoryReleasesDedupKey(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	m := newMemory(1, "same")
	require.NoError(t, store.InsertMemory(ctx, m))

	closedAt := t0.Add(24 * time.Hour)
	m.ValidTo = &closedAt
	require.NoError(t, store.UpdateMemory(ctx, m, 1))
	assert.Equal(t, int64(2), m.Version)

	assert.NoError(t, store.InsertMemory(ctx, newMemory(2, "same")))
}

func TestSQLiteStore_UpdateVersionConflict(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	m := newMemory(1, "v1")
	require.NoError(t, store.InsertMemory(ctx, m))

	stale := m.Clone()
	m.Content = "v2"
	require.NoError(t, store.UpdateMemory(ctx, m, 1))

	stale.Content = "v3"
	err := store.UpdateMemory(ctx, stale, 1)
	assert.True(t, errors.Is(err, storage.ErrVersionConflict))

	got, err := store.GetMemory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)
}

func TestSQLiteStore_UpdateMemoriesIsAtomic(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	a := newMemory(1, "a")
	b := newMemory(2, "b")
	require.NoError(t, store.InsertMemory(ctx, a))
	require.NoError(t, store.InsertMemory(ctx, b))

	// b moves on before the pair is written.
	bumped := b.Clone()
	bumped.Importance = 0.9
	require.NoError(t, store.UpdateMemory(ctx, bumped, 1))

	closedAt := t0.Add(time.Hour)
	a.ValidTo = &closedAt
	b.ApprovalStatus = storage.ApprovalPending
	err := store.UpdateMemories(ctx, []storage.MemoryUpdate{
		{Memory: a, ExpectedVersion: 1},
		{Memory: b, ExpectedVersion: 1},
	}, &storage.AuditEvent{
		EventType:   storage.EventSuperseded,
		EntityType:  storage.EntityMemory,
		EntityID:    "1",
		ActorUserID: "system:conflict",
		CreatedAt:   closedAt,
	})
	assert.True(t, errors.Is(err, storage.ErrVersionConflict))
	assert.Equal(t, int64(1), a.Version)
	assert.Equal(t, int64(1), b.Version)

	got, err := store.GetMemory(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got.ValidTo)
	assert.Equal(t, int64(1), got.Version)

	events, err := store.ListAudit(ctx, &storage.AuditFilter{EntityType: storage.EntityMemory, EntityID: "1"})
	require.NoError(t, err)
	assert.Empty(t, events)

	// Against current versions the pair commits.
	b.Version = 2
	require.NoError(t, store.UpdateMemories(ctx, []storage.MemoryUpdate{
		{Memory: a, ExpectedVersion: 1},
		{Memory: b, ExpectedVersion: 2},
	}))
	assert.Equal(t, int64(2), a.Version)
	assert.Equal(t, int64(3), b.Version)
}

func TestSQLiteStore_RecordAccess(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	require.NoError(t, store.InsertMemory(ctx, newMemory(1, "hot")))
	at := t0.Add(time.Hour)
	require.NoError(t, store.RecordAccess(ctx, 1, at, 0.6))

	got, err := store.GetMemory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	require.NotNil(t, got.LastAccessedAt)
	assert.True(t, got.LastAccessedAt.Equal(at))
	assert.InDelta(t, 0.6, got.BaseImportance, 1e-9)
	assert.Equal(t, int64(2), got.Version)

	assert.True(t, errors.Is(store.RecordAccess(ctx, 99, at, 0.5), storage.ErrNotFound))
}

func TestSQLiteStore_ListAsOfAndScope(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	v2 := newMemory(1, "API uses v2")
	v3 := newMemory(2, "API uses v3")
	v3.ValidFrom = time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	v2.ValidTo = &v3.ValidFrom
	require.NoError(t, store.InsertMemory(ctx, v2))
	require.NoError(t, store.InsertMemory(ctx, v3))

	other := newMemory(3, "other space")
	other.SpaceID = "s2"
	require.NoError(t, store.InsertMemory(ctx, other))

	anchors := []string{storage.SharedAnchorKey(storage.ScopeRef{Level: storage.ScopeSpace, ID: "s1"})}

	feb := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	got, err := store.ListMemories(ctx, &storage.ListOptions{AnchorKeys: anchors, AsOf: &feb})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "API uses v2", got[0].Content)

	mar := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got, err = store.ListMemories(ctx, &storage.ListOptions{AnchorKeys: anchors, AsOf: &mar})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "API uses v3", got[0].Content)

	got, err = store.ListMemories(ctx, &storage.ListOptions{AnchorKeys: anchors, AfterID: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].ID)
}

func newProposal(id string, memoryID int64) *storage.Proposal {
	return &storage.Proposal{
		ID:                 id,
		MemoryID:           memoryID,
		ProposedVisibility: storage.VisibilityGroup,
		ProposedScopeID:    "g1",
		ProposedByUserID:   "alice",
		ProposedAt:         t0,
		Status:             storage.ProposalPending,
		ConfidenceScore:    0.9,
		SupportingEvidence: []string{"msg-1"},
	}
}

func TestSQLiteStore_SinglePendingProposal(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	require.NoError(t, store.InsertMemory(ctx, newMemory(1, "shareable")))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.CreateProposal(ctx, newProposal(string(rune('a'+i)), 1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, storage.ErrConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 7, conflicts)

	pending, err := store.ListProposals(ctx, &storage.ProposalFilter{MemoryID: 1, Status: storage.ProposalPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSQLiteStore_CloseProposalFreesPendingSlot(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	require.NoError(t, store.InsertMemory(ctx, newMemory(1, "shareable")))
	require.NoError(t, store.CreateProposal(ctx, newProposal("p1", 1)))

	rejected := &storage.AuditEvent{EventType: storage.EventRejected, EntityType: storage.EntityProposal, EntityID: "p1"}
	require.NoError(t, store.CloseProposal(ctx, &storage.CloseParams{
		ProposalID: "p1", Status: storage.ProposalRejected, ActorID: "bob", Notes: "no", ClosedAt: t0,
	}, rejected))

	// Terminal states are final.
	err := store.CloseProposal(ctx, &storage.CloseParams{
		ProposalID: "p1", Status: storage.ProposalWithdrawn, ActorID: "alice", ClosedAt: t0,
	})
	assert.True(t, errors.Is(err, storage.ErrConflict))

	p, err := store.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, storage.ProposalRejected, p.Status)
	assert.Equal(t, "bob", p.ReviewedByUserID)
	assert.Equal(t, []string{"msg-1"}, p.SupportingEvidence)

	assert.NoError(t, store.CreateProposal(ctx, newProposal("p2", 1)))

	events, err := store.ListAudit(ctx, &storage.AuditFilter{EntityType: storage.EntityProposal, EntityID: "p1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, storage.EventRejected, events[0].EventType)
	assert.NotEmpty(t, events[0].ID)
}

func TestSQLiteStore_ApproveIsAtomic(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	m := newMemory(1, "shareable")
	m.Visibility = storage.VisibilityPrivate
	require.NoError(t, store.InsertMemory(ctx, m))
	require.NoError(t, store.CreateProposal(ctx, newProposal("p1", 1)))

	// Stale memory version: nothing must change.
	stale := m.Clone()
	stale.Visibility = storage.VisibilityGroup
	stale.GroupID = "g1"
	require.NoError(t, store.RecordAccess(ctx, 1, t0, 0.5))

	err := store.ApproveProposal(ctx, &storage.ApproveParams{
		ProposalID: "p1", ReviewerID: "bob", ReviewedAt: t0,
		Memory: stale, ExpectedMemoryVersion: 1,
	}, &storage.AuditEvent{EventType: storage.EventApproved, EntityType: storage.EntityProposal, EntityID: "p1"})
	assert.True(t, errors.Is(err, storage.ErrVersionConflict))

	p, err := store.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, storage.ProposalPending, p.Status)
	events, err := store.ListAudit(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, events)

	// Fresh version succeeds and updates both rows.
	current, err := store.GetMemory(ctx, 1)
	require.NoError(t, err)
	next := current.Clone()
	next.Visibility = storage.VisibilityGroup
	next.GroupID = "g1"
	require.NoError(t, store.ApproveProposal(ctx, &storage.ApproveParams{
		ProposalID: "p1", ReviewerID: "bob", ReviewedAt: t0,
		Memory: next, ExpectedMemoryVersion: current.Version,
	}))

	got, err := store.GetMemory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, storage.VisibilityGroup, got.Visibility)
	p, err = store.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, storage.ProposalApproved, p.Status)
}
