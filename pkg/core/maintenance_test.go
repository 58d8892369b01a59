package core_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scopemem "github.com/oceanbase/scopemem-go/pkg/core"
	"github.com/oceanbase/scopemem-go/pkg/intelligence"
	"github.com/oceanbase/scopemem-go/pkg/storage"
	"github.com/oceanbase/scopemem-go/pkg/storage/sqlite"
)

const day = 24 * time.Hour

func TestDecay_HalvesAfterOneHalfLife(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c := privateFact("Quarterly planning happens in the big room")
	c.Importance = 0.8
	stored := f.ingest(t, c)

	now := t0.Add(30 * day)
	report, err := f.client.RunDecayPass(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Decayed)
	assert.Equal(t, stored.MemoryID, report.Watermark)

	m, err := f.client.Store().GetMemory(ctx, stored.MemoryID)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, m.Importance, 1e-9)
	assert.InDelta(t, 0.8, m.BaseImportance, 1e-9)

	report, err = f.client.RunDecayPass(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unchanged)

	m, err = f.client.Store().GetMemory(ctx, stored.MemoryID)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, m.Importance, 1e-9)
}

func TestDecay_ArchivesForgottenMemories(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	forgotten := privateFact("Old wifi password rotation schedule")
	forgotten.Importance = 0.5
	pinned := privateFact("Emergency contact is the on-call phone")
	pinned.Importance = 0.5
	pinned.Pinned = true

	a := f.ingest(t, forgotten)
	b := f.ingest(t, pinned)

	report, err := f.client.RunDecayPass(ctx, t0.Add(400*day))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Archived)
	assert.Equal(t, 1, report.Decayed)

	m, err := f.client.Store().GetMemory(ctx, a.MemoryID)
	require.NoError(t, err)
	assert.NotNil(t, m.ArchivedAt)

	m, err = f.client.Store().GetMemory(ctx, b.MemoryID)
	require.NoError(t, err)
	assert.Nil(t, m.ArchivedAt)

	events, err := f.client.AuditTrail(ctx, storage.EntityMemory, itoa(a.MemoryID))
	require.NoError(t, err)
	assert.Equal(t, []storage.EventType{storage.EventCreated, storage.EventArchived}, eventTypes(events))

	result, err := f.client.AssembleContext(ctx, alice(), "wifi password", 100, scopemem.RetrievalProfile)
	require.NoError(t, err)
	assert.NotContains(t, contents(result.Fragments), "Old wifi password rotation schedule")
}

func TestDecay_ResumesFromWatermark(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first := f.ingest(t, privateFact("Alpha runbook"))
	second := f.ingest(t, privateFact("Beta runbook"))

	report, err := f.client.RunDecayPass(ctx, t0.Add(10*day), scopemem.WithAfterID(first.MemoryID))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, second.MemoryID, report.Watermark)
}

func sharedApproved(t *testing.T, f *fixture, content string, confidence float64, from time.Time) *scopemem.IngestResult {
	t.Helper()
	c := privateFact(content)
	c.Visibility = scopemem.VisibilitySpace
	c.Confidence = confidence
	c.ValidFrom = &from
	r := f.ingest(t, c)
	_, err := f.client.ReviewMemory(context.Background(), r.MemoryID, "space-owner", scopemem.DecisionApprove, "")
	require.NoError(t, err)
	return r
}

func TestResolveConflict_HigherConfidenceWins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	from := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	strong := sharedApproved(t, f, "Support hours are nine to five", 0.9, from)
	weak := sharedApproved(t, f, "Customer desk staffed until seven", 0.6, from)

	result, err := f.client.ResolveConflict(ctx, strong.MemoryID, weak.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, intelligence.OutcomeSupersede, result.Outcome)
	assert.Equal(t, strong.MemoryID, result.WinnerID)
	assert.Equal(t, weak.MemoryID, result.LoserID)
	assert.Equal(t, []int64{weak.MemoryID}, result.Superseded)
	assert.Equal(t, []int64{weak.MemoryID}, result.Flagged)

	loser, err := f.client.Store().GetMemory(ctx, weak.MemoryID)
	require.NoError(t, err)
	require.NotNil(t, loser.ValidTo)
	assert.True(t, loser.ValidTo.After(loser.ValidFrom))
	assert.Equal(t, storage.ApprovalPending, loser.ApprovalStatus)

	winner, err := f.client.Store().GetMemory(ctx, strong.MemoryID)
	require.NoError(t, err)
	assert.True(t, winner.IsOpen())
	assert.Equal(t, storage.ApprovalApproved, winner.ApprovalStatus)

	events, err := f.client.AuditTrail(ctx, storage.EntityMemory, itoa(weak.MemoryID))
	require.NoError(t, err)
	assert.Equal(t, []storage.EventType{
		storage.EventCreated, storage.EventApproved, storage.EventSuperseded, storage.EventFlagged,
	}, eventTypes(events))

	again, err := f.client.ResolveConflict(ctx, strong.MemoryID, weak.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, intelligence.OutcomeNoConflict, again.Outcome)
}

// racingStore changes the second row of the first batched update before
// the batch is written.
type racingStore struct {
	storage.Store
	raced int
}

func (s *racingStore) UpdateMemories(ctx context.Context, updates []storage.MemoryUpdate, events ...*storage.AuditEvent) error {
	if s.raced == 0 && len(updates) > 1 {
		s.raced++
		current, err := s.Store.GetMemory(ctx, updates[1].Memory.ID)
		if err != nil {
			return err
		}
		current.Importance = 0.95
		if err := s.Store.UpdateMemory(ctx, current, current.Version); err != nil {
			return err
		}
	}
	return s.Store.UpdateMemories(ctx, updates, events...)
}

func TestResolveConflict_RaceOnEitherRowRetriesThePair(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Engine.Intelligence = intelligence.DefaultConfig()
	cfg.Engine.Intelligence.TieBreak = intelligence.TieBreakFlagBoth

	inner, err := sqlite.NewClient(ctx, &sqlite.Config{
		DBPath:         filepath.Join(t.TempDir(), "race.db"),
		CollectionName: "memories",
	})
	require.NoError(t, err)
	racing := &racingStore{Store: inner}
	f := setupConfig(t, cfg, scopemem.WithStore(racing))

	from := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	a := sharedApproved(t, f, "Deploy window opens at noon", 0.8, from)
	b := sharedApproved(t, f, "Release slot begins after lunch", 0.8, from)

	result, err := f.client.ResolveConflict(ctx, a.MemoryID, b.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, 1, racing.raced)
	assert.Equal(t, intelligence.OutcomeFlag, result.Outcome)
	assert.ElementsMatch(t, []int64{a.MemoryID, b.MemoryID}, result.Flagged)
	assert.Empty(t, result.Superseded)

	for _, id := range []int64{a.MemoryID, b.MemoryID} {
		m, err := f.client.Store().GetMemory(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, storage.ApprovalPending, m.ApprovalStatus)
		assert.True(t, m.IsOpen())

		flagged, err := f.client.Store().ListAudit(ctx, &storage.AuditFilter{
			EntityType: storage.EntityMemory, EntityID: itoa(id), EventType: storage.EventFlagged,
		})
		require.NoError(t, err)
		assert.Len(t, flagged, 1)
	}

	bumped, err := f.client.Store().GetMemory(ctx, b.MemoryID)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, bumped.Importance, 1e-9)
}

func TestResolveConflict_DifferentAnchors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a := f.ingest(t, privateFact("Alice prefers tea"))
	b := f.ingest(t, &scopemem.Candidate{Content: "Bob prefers coffee", OwnerUserID: "bob", OrganizationID: "org1", SpaceID: "s1"})

	result, err := f.client.ResolveConflict(ctx, a.MemoryID, b.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, intelligence.OutcomeNoConflict, result.Outcome)

	_, err = f.client.ResolveConflict(ctx, a.MemoryID, a.MemoryID)
	assert.ErrorIs(t, err, scopemem.ErrInvalidInput)
}

func TestPromotionSweep_ProposesHotMemories(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c := privateFact("The incident channel is #ops-war-room")
	c.Importance = 0.7
	hot := f.ingest(t, c)
	cold := privateFact("Unrelated note about parking")
	cold.Importance = 0.3
	f.ingest(t, cold)

	for i := 0; i < 3; i++ {
		result, err := f.client.AssembleContext(ctx, alice(), "incident channel war room", 12, scopemem.AssemblyProfile)
		require.NoError(t, err)
		require.NotEmpty(t, result.Fragments)
		require.Equal(t, hot.MemoryID, result.Fragments[0].SourceMemoryID)
	}

	report, err := f.client.RunPromotionSweep(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, report.Proposed, "too young")

	f.clock.Advance(48 * time.Hour)
	report, err = f.client.RunPromotionSweep(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	require.Len(t, report.Proposed, 1)

	p, err := f.client.GetProposal(ctx, report.Proposed[0])
	require.NoError(t, err)
	assert.Equal(t, hot.MemoryID, p.MemoryID)
	assert.Equal(t, storage.VisibilitySpace, p.ProposedVisibility)
	assert.Equal(t, "s1", p.ProposedScopeID)
	assert.Equal(t, "alice", p.ProposedByUserID)
	assert.Contains(t, p.SupportingEvidence, "access_count=3")

	report, err = f.client.RunPromotionSweep(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, report.Proposed)
	assert.Equal(t, 1, report.Skipped)
}
