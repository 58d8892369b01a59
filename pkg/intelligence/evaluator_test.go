package intelligence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/scopemem-go/pkg/intelligence"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

func TestEvaluator_NovelIsAdd(t *testing.T) {
	store := newStore(t)
	e := intelligence.NewEvaluator(store, 0)
	assert.Equal(t, 0.9, e.Threshold())

	ref := spaceMemory(0, "", nil)
	d, err := e.Evaluate(context.Background(), candidateFor(ref, "GDPR applies to all EU customer data", []float64{1, 0, 0}, 0.9))
	require.NoError(t, err)
	assert.Equal(t, intelligence.ActionAdd, d.Action)
	assert.Nil(t, d.Target)
}

func TestEvaluator_IdenticalIsSkip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	existing := spaceMemory(1, "GDPR applies to all EU customer data", []float64{1, 0, 0})
	require.NoError(t, store.InsertMemory(ctx, existing))

	e := intelligence.NewEvaluator(store, 0.9)
	d, err := e.Evaluate(ctx, candidateFor(existing, "gdpr applies to all EU customer data.", nil, 1.0))
	require.NoError(t, err)
	assert.Equal(t, intelligence.ActionSkip, d.Action)
	assert.Equal(t, int64(1), d.Target.ID)
}

func TestEvaluator_NearDuplicate(t *testing.T) {
	ctx := context.Background()
	base := "Deploys run on Fridays"

	tests := []struct {
		name       string
		existing   string
		candidate  string
		confidence float64
		want       intelligence.Action
	}{
		{"different content, higher confidence", base, "Deploys run on Fridays at noon", 0.9, intelligence.ActionUpdate},
		{"different content, equal confidence", base, "Deploys run on Fridays at noon", 0.8, intelligence.ActionUpdate},
		{"lower confidence, novel words", base, "Deploys run on Fridays at noon", 0.5, intelligence.ActionMerge},
		{"lower confidence, nothing new", "Deploys run on Fridays at noon UTC", base, 0.5, intelligence.ActionSkip},
		{"same words reordered", base, "On Fridays deploys run", 0.99, intelligence.ActionSkip},
		{"harmless rewording", "The billing team reviews refund requests before they are paid out",
			"The billing team reviews refund requests before they get paid out", 0.99, intelligence.ActionSkip},
		{"changed number", "Invoices are retained for 30 days after the billing period closes",
			"Invoices are retained for 90 days after the billing period closes", 0.95, intelligence.ActionUpdate},
		{"flipped quantifier", "Enterprise customers must always receive invoices by email",
			"Enterprise customers must never receive invoices by email", 0.95, intelligence.ActionUpdate},
		{"contracted negation", "Staging deploys on weekdays need a second approval from the release manager",
			"Staging deploys on weekdays don't need a second approval from the release manager", 0.95, intelligence.ActionUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			existing := spaceMemory(1, tt.existing, []float64{1, 0, 0})
			require.NoError(t, store.InsertMemory(ctx, existing))

			e := intelligence.NewEvaluator(store, 0.9)
			d, err := e.Evaluate(ctx, candidateFor(existing, tt.candidate, []float64{0.99, 0.1, 0}, tt.confidence))
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Action, d.Reason)
			if tt.want != intelligence.ActionAdd {
				require.NotNil(t, d.Target)
				assert.Equal(t, int64(1), d.Target.ID)
			}
			if tt.want == intelligence.ActionMerge {
				assert.Equal(t, "Deploys run on Fridays; Deploys run on Fridays at noon", d.MergedContent)
			}
		})
	}
}

func TestEvaluator_DissimilarIsAdd(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	existing := spaceMemory(1, "Deploys run on Fridays", []float64{1, 0, 0})
	require.NoError(t, store.InsertMemory(ctx, existing))

	e := intelligence.NewEvaluator(store, 0.9)
	d, err := e.Evaluate(ctx, candidateFor(existing, "Lunch is at noon", []float64{0, 1, 0}, 0.9))
	require.NoError(t, err)
	assert.Equal(t, intelligence.ActionAdd, d.Action)
	assert.Empty(t, d.ConflictsWith)
}

func TestEvaluator_OtherAnchorIsAdd(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	existing := spaceMemory(1, "Deploys run on Fridays", []float64{1, 0, 0})
	require.NoError(t, store.InsertMemory(ctx, existing))

	other := spaceMemory(0, "", nil)
	other.SpaceID = "s2"
	e := intelligence.NewEvaluator(store, 0.9)
	d, err := e.Evaluate(ctx, candidateFor(other, "Deploys run on Fridays", []float64{1, 0, 0}, 0.9))
	require.NoError(t, err)
	assert.Equal(t, intelligence.ActionAdd, d.Action)
}

func TestEvaluator_LaterValidFromIsNewVersion(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	existing := spaceMemory(1, "API uses v2", []float64{1, 0, 0})
	require.NoError(t, store.InsertMemory(ctx, existing))

	later := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	c := candidateFor(existing, "API uses v3", []float64{0.99, 0.1, 0}, 0.9)
	c.ValidFrom = &later

	e := intelligence.NewEvaluator(store, 0.9)
	d, err := e.Evaluate(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, intelligence.ActionAdd, d.Action)
	require.Len(t, d.ConflictsWith, 1)
	assert.Equal(t, int64(1), d.ConflictsWith[0].ID)
}

func TestEvaluator_SameSubjectIsNewVersion(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	existing := spaceMemory(1, "API uses v2", nil)
	existing.SubjectKey = "api.version"
	require.NoError(t, store.InsertMemory(ctx, existing))

	e := intelligence.NewEvaluator(store, 0.9)

	c := candidateFor(existing, "API uses v3", nil, 0.9)
	c.SubjectKey = "api.version"
	d, err := e.Evaluate(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, intelligence.ActionAdd, d.Action)
	require.Len(t, d.ConflictsWith, 1)

	same := candidateFor(existing, "v2 API uses", nil, 0.9)
	same.SubjectKey = "api.version"
	d, err = e.Evaluate(ctx, same)
	require.NoError(t, err)
	assert.Equal(t, intelligence.ActionSkip, d.Action)
}

func TestEvaluator_EmptyCandidate(t *testing.T) {
	e := intelligence.NewEvaluator(newStore(t), 0.9)
	_, err := e.Evaluate(context.Background(), &intelligence.Candidate{Content: "  "})
	assert.Error(t, err)
}

func TestEvaluator_InvisibleMemoriesAreNotTargets(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	existing := spaceMemory(1, "The payments staging vault passphrase is tangerine seven", []float64{1, 0, 0})
	require.NoError(t, store.InsertMemory(ctx, existing))
	e := intelligence.NewEvaluator(store, 0.9)
	hidden := func(*storage.Memory) bool { return false }

	near := candidateFor(existing, "The payments staging vault passphrase is seven", []float64{0.99, 0.1, 0}, 0.95)
	near.Visible = hidden
	d, err := e.Evaluate(ctx, near)
	require.NoError(t, err)
	assert.Equal(t, intelligence.ActionAdd, d.Action)
	assert.Nil(t, d.Target)

	twin := candidateFor(existing, existing.Content, nil, 0.95)
	twin.Visible = hidden
	d, err = e.Evaluate(ctx, twin)
	require.NoError(t, err)
	assert.Equal(t, intelligence.ActionSkip, d.Action)
	assert.Nil(t, d.Target)
}

func TestMaterialChange(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"retained for 30 days", "retained for 90 days", true},
		{"must always reply", "must never reply", true},
		{"deploys need approval", "deploys don't need approval", true},
		{"all invoices are emailed", "invoices are emailed", true},
		{"refunds are paid out", "refunds get paid out", false},
		{"same text", "same text", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, intelligence.MaterialChange(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}
