package core_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scopemem "github.com/oceanbase/scopemem-go/pkg/core"
	"github.com/oceanbase/scopemem-go/pkg/intelligence"
	"github.com/oceanbase/scopemem-go/pkg/llm"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

func TestIngest_IdenticalCandidateIsSkipped(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first := f.ingest(t, privateFact("Deploys run on Fridays"))
	assert.Equal(t, scopemem.ActionAdd, first.Action)
	assert.Equal(t, storage.ApprovalApproved, first.Memory.ApprovalStatus)
	assert.NotEmpty(t, first.Memory.Embedding)

	second := f.ingest(t, privateFact("deploys run on fridays."))
	assert.Equal(t, scopemem.ActionSkip, second.Action)
	assert.Equal(t, first.MemoryID, second.MemoryID)

	rows, err := f.client.Store().ListMemories(ctx, &storage.ListOptions{OwnerUserID: "alice"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].AccessCount)
	assert.Nil(t, rows[0].LastAccessedAt)

	events, err := f.client.AuditTrail(ctx, storage.EntityMemory, itoa(first.MemoryID))
	require.NoError(t, err)
	assert.Equal(t, []storage.EventType{storage.EventCreated}, eventTypes(events))
}

func TestIngest_SharedCandidateIsPending(t *testing.T) {
	f := setup(t)
	c := privateFact("Design reviews happen on Tuesdays")
	c.Visibility = scopemem.VisibilitySpace

	result := f.ingest(t, c)
	assert.Equal(t, scopemem.ActionAdd, result.Action)
	assert.Equal(t, storage.ApprovalPending, result.Memory.ApprovalStatus)
	assert.Equal(t, "space/space:s1", result.Memory.AnchorKey())
}

func TestIngest_ScopeLegality(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c := privateFact("Mallory's note")
	c.OwnerUserID = "mallory"
	c.Visibility = scopemem.VisibilitySpace
	_, err := f.client.IngestCandidate(ctx, c)
	assert.ErrorIs(t, err, scopemem.ErrPermissionDenied)

	c = privateFact("No group given")
	c.Visibility = scopemem.VisibilityGroup
	_, err = f.client.IngestCandidate(ctx, c)
	assert.ErrorIs(t, err, scopemem.ErrInvalidInput)
}

func TestIngest_InvalidCandidates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(c *scopemem.Candidate)
	}{
		{name: "empty content", mutate: func(c *scopemem.Candidate) { c.Content = "  " }},
		{name: "no owner", mutate: func(c *scopemem.Candidate) { c.OwnerUserID = "" }},
		{name: "confidence above one", mutate: func(c *scopemem.Candidate) { c.Confidence = 1.5 }},
		{name: "unknown visibility", mutate: func(c *scopemem.Candidate) { c.Visibility = "public" }},
		{name: "unknown type", mutate: func(c *scopemem.Candidate) { c.MemoryType = "rumor" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := privateFact("Something worth keeping")
			tt.mutate(c)
			_, err := f.client.IngestCandidate(ctx, c)
			assert.ErrorIs(t, err, scopemem.ErrInvalidInput)
		})
	}

	_, err := f.client.IngestCandidate(ctx, nil)
	assert.ErrorIs(t, err, scopemem.ErrInvalidInput)
}

func TestIngest_ConcurrentDuplicatesStoreOneRow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		actions []scopemem.Action
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.client.IngestCandidate(ctx, privateFact("The on-call rotation changes on Monday"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			actions = append(actions, result.Action)
			mu.Unlock()
		}()
	}
	wg.Wait()

	adds := 0
	for _, a := range actions {
		if a == scopemem.ActionAdd {
			adds++
		}
	}
	assert.Equal(t, 1, adds)

	rows, err := f.client.Store().ListMemories(ctx, &storage.ListOptions{OwnerUserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

// topicEmbedder maps every text mentioning deploys onto one vector, so
// reworded facts about deploys are near-duplicates.
type topicEmbedder struct{ bowEmbedder }

func (e *topicEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.Contains(strings.ToLower(text), "deploy") {
		return []float64{1, 0}, nil
	}
	return []float64{0, 1}, nil
}

func (e *topicEmbedder) Dimensions() int { return 2 }

func (e *topicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i], _ = e.Embed(ctx, text)
	}
	return out, nil
}

func TestIngest_UpdateKeepsIdentity(t *testing.T) {
	f := setup(t, scopemem.WithEmbedder(&topicEmbedder{}))
	ctx := context.Background()

	first := f.ingest(t, privateFact("Deploys run on Fridays"))
	f.clock.Advance(time.Hour)

	c := privateFact("Production deploys happen every Thursday morning")
	c.Confidence = 0.9
	second := f.ingest(t, c)
	assert.Equal(t, scopemem.ActionUpdate, second.Action)
	assert.Equal(t, first.MemoryID, second.MemoryID)

	m, err := f.client.GetMemory(ctx, alice(), first.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, "Production deploys happen every Thursday morning", m.Content)
	assert.Equal(t, 0.9, m.Confidence)
	assert.Equal(t, t0, m.CreatedAt.UTC())
	assert.Equal(t, int64(2), m.Version)

	events, err := f.client.AuditTrail(ctx, storage.EntityMemory, itoa(first.MemoryID))
	require.NoError(t, err)
	assert.Equal(t, []storage.EventType{storage.EventCreated, storage.EventUpdated, storage.EventAccessed}, eventTypes(events))
}

func TestIngest_LowerConfidenceMerges(t *testing.T) {
	f := setup(t, scopemem.WithEmbedder(&topicEmbedder{}))

	first := f.ingest(t, privateFact("Deploys run on Fridays"))

	c := privateFact("Deploys need a rollback plan")
	c.Confidence = 0.5
	second := f.ingest(t, c)
	assert.Equal(t, scopemem.ActionMerge, second.Action)
	assert.Equal(t, first.MemoryID, second.MemoryID)
	assert.Equal(t, "Deploys run on Fridays; Deploys need a rollback plan", second.Memory.Content)
	assert.Equal(t, 0.8, second.Memory.Confidence)
}

func TestIngest_EmbeddingFailureIsRetried(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.embedder.setFail(true)
	result := f.ingest(t, privateFact("Quarterly planning starts in March"))
	assert.Equal(t, scopemem.ActionAdd, result.Action)
	assert.Nil(t, result.Memory.Embedding)
	assert.True(t, result.Memory.EmbeddingPending)

	fixed, err := f.client.RetryPendingEmbeddings(ctx, 10)
	assert.ErrorIs(t, err, scopemem.ErrEmbeddingFailed)
	assert.Zero(t, fixed)

	f.embedder.setFail(false)
	fixed, err = f.client.RetryPendingEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, fixed)

	m, err := f.client.Store().GetMemory(ctx, result.MemoryID)
	require.NoError(t, err)
	assert.False(t, m.EmbeddingPending)
	assert.Len(t, m.Embedding, 64)
}

func TestIngest_SubjectSupersedes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

	v2 := f.ingest(t, &scopemem.Candidate{
		Content: "API uses v2", OwnerUserID: "alice", OrganizationID: "org1", SpaceID: "s1",
		Visibility: scopemem.VisibilitySpace, Confidence: 0.9, SubjectKey: "api.version", ValidFrom: &jan,
	})
	v3 := f.ingest(t, &scopemem.Candidate{
		Content: "API uses v3", OwnerUserID: "alice", OrganizationID: "org1", SpaceID: "s1",
		Visibility: scopemem.VisibilitySpace, Confidence: 0.9, SubjectKey: "api.version", ValidFrom: &feb,
	})
	assert.Equal(t, scopemem.ActionAdd, v3.Action)
	assert.Equal(t, []int64{v2.MemoryID}, v3.Superseded)

	closed, err := f.client.Store().GetMemory(ctx, v2.MemoryID)
	require.NoError(t, err)
	require.NotNil(t, closed.ValidTo)
	assert.Equal(t, feb, closed.ValidTo.UTC())

	events, err := f.client.AuditTrail(ctx, storage.EntityMemory, itoa(v2.MemoryID))
	require.NoError(t, err)
	assert.Equal(t, []storage.EventType{storage.EventCreated, storage.EventSuperseded}, eventTypes(events))

	again := f.ingest(t, &scopemem.Candidate{
		Content: "API uses v3", OwnerUserID: "alice", OrganizationID: "org1", SpaceID: "s1",
		Visibility: scopemem.VisibilitySpace, Confidence: 0.9, SubjectKey: "api.version", ValidFrom: &feb,
	})
	assert.Equal(t, scopemem.ActionSkip, again.Action)
}

// extractorFunc adapts a function to the extraction collaborator.
type extractorFunc func(ctx context.Context, turn *intelligence.Turn) ([]intelligence.Extracted, error)

func (f extractorFunc) ExtractCandidates(ctx context.Context, turn *intelligence.Turn) ([]intelligence.Extracted, error) {
	return f(ctx, turn)
}

func TestIngestConversation(t *testing.T) {
	extractor := extractorFunc(func(_ context.Context, turn *intelligence.Turn) ([]intelligence.Extracted, error) {
		return []intelligence.Extracted{
			{Content: "Prefers answers in German", Type: storage.TypePreference, Confidence: 0.95},
			{Content: "Works on the billing team", Type: storage.TypeFact, Confidence: 0.8},
			{Content: "Prefers answers in German", Type: storage.TypePreference, Confidence: 0.95},
		}, nil
	})
	f := setup(t, scopemem.WithExtractor(extractor))

	turn := &scopemem.Turn{
		ConversationID: "c1",
		MessageID:      "m7",
		Messages:       []llm.Message{{Role: "user", Content: "Please answer in German, I'm on billing."}},
	}
	results, err := f.client.IngestConversation(context.Background(), turn,
		&scopemem.ConversationScope{OwnerUserID: "alice", OrganizationID: "org1", SpaceID: "s1"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, scopemem.ActionAdd, results[0].Action)
	assert.Equal(t, scopemem.ActionAdd, results[1].Action)
	assert.Equal(t, scopemem.ActionSkip, results[2].Action)
	assert.Equal(t, "c1", results[0].Memory.SourceConversationID)
	assert.Equal(t, "m7", results[0].Memory.SourceMessageID)
	assert.Equal(t, storage.TypePreference, results[0].Memory.MemoryType)
}

func TestIngestConversation_WithoutExtractor(t *testing.T) {
	f := setup(t)
	turn := &scopemem.Turn{Messages: []llm.Message{{Role: "user", Content: "hi"}}}
	_, err := f.client.IngestConversation(context.Background(), turn, &scopemem.ConversationScope{OwnerUserID: "alice"})
	assert.ErrorIs(t, err, scopemem.ErrLLMOperation)
}

func TestIngestBatch(t *testing.T) {
	f := setup(t)
	candidates := []*scopemem.Candidate{
		privateFact("Payroll closes on the 25th"),
		privateFact("Expense reports go to finance"),
		{Content: ""},
		privateFact("Payroll closes on the 25th"),
	}
	results := f.client.IngestBatch(context.Background(), candidates)
	require.Len(t, results, 4)

	actions := map[scopemem.Action]int{}
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		if r.Error != nil {
			continue
		}
		actions[r.Result.Action]++
	}
	assert.ErrorIs(t, results[2].Error, scopemem.ErrInvalidInput)
	assert.Equal(t, 2, actions[scopemem.ActionAdd])
	assert.Equal(t, 1, actions[scopemem.ActionSkip])
}

func spaceCandidate(owner, content string, confidence float64) *scopemem.Candidate {
	return &scopemem.Candidate{
		Content:        content,
		OwnerUserID:    owner,
		OrganizationID: "org1",
		SpaceID:        "s1",
		Visibility:     scopemem.VisibilitySpace,
		Confidence:     confidence,
	}
}

func TestIngest_DoesNotMatchMemoriesTheContributorCannotSee(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	secret := "The vault recovery passphrase for payments staging is tangerine seven"

	hidden := f.ingest(t, spaceCandidate("alice", secret, 0.8))
	require.Equal(t, scopemem.ActionAdd, hidden.Action)
	require.Equal(t, storage.ApprovalPending, hidden.Memory.ApprovalStatus)
	_, err := f.client.GetMemory(ctx, bob(), hidden.MemoryID)
	require.ErrorIs(t, err, scopemem.ErrNotFound)

	t.Run("near duplicate is added separately", func(t *testing.T) {
		r := f.ingest(t, spaceCandidate("bob", "The vault recovery passphrase for payments staging is seven", 0.95))
		assert.Equal(t, scopemem.ActionAdd, r.Action)
		assert.NotEqual(t, hidden.MemoryID, r.MemoryID)
		require.NotNil(t, r.Memory)
		assert.NotContains(t, r.Memory.Content, "tangerine")

		untouched, err := f.client.GetMemory(ctx, alice(), hidden.MemoryID)
		require.NoError(t, err)
		assert.Equal(t, secret, untouched.Content)
		assert.Equal(t, int64(1), untouched.Version)
	})

	t.Run("exact twin is skipped without disclosure", func(t *testing.T) {
		r := f.ingest(t, spaceCandidate("bob", secret, 0.95))
		assert.Equal(t, scopemem.ActionSkip, r.Action)
		assert.Zero(t, r.MemoryID)
		assert.Nil(t, r.Memory)
	})

	t.Run("approved memory is matched", func(t *testing.T) {
		_, err := f.client.ReviewMemory(ctx, hidden.MemoryID, "space-owner", scopemem.DecisionApprove, "")
		require.NoError(t, err)

		r := f.ingest(t, spaceCandidate("bob", secret, 0.95))
		assert.Equal(t, scopemem.ActionSkip, r.Action)
		assert.Equal(t, hidden.MemoryID, r.MemoryID)
		require.NotNil(t, r.Memory)
	})
}
