package intelligence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/scopemem-go/pkg/intelligence"
)

func TestNormalizeAndHash(t *testing.T) {
	assert.Equal(t, "api uses v2", intelligence.Normalize("  API uses   v2!  "))
	assert.Equal(t, intelligence.ContentHash("API uses v2."), intelligence.ContentHash("api USES v2"))
	assert.NotEqual(t, intelligence.ContentHash("API uses v2"), intelligence.ContentHash("API uses v3"))
	assert.Len(t, intelligence.ContentHash("x"), 32)
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, intelligence.Jaccard("a b c", "c b a"))
	assert.InDelta(t, 0.5, intelligence.Jaccard("api uses v2", "api uses v3"), 1e-9)
	assert.Equal(t, 0.0, intelligence.Jaccard("a", "b"))
}

func TestNovelWords(t *testing.T) {
	assert.Equal(t, []string{"to", "eu", "customers"},
		intelligence.NovelWords("GDPR applies", "GDPR applies to EU customers"))
	assert.Empty(t, intelligence.NovelWords("a b c", "c a"))
}

func TestKeywordRelevance(t *testing.T) {
	assert.Equal(t, 1.0, intelligence.KeywordRelevance("GDPR applies to all EU customer data", "gdpr data"))
	assert.InDelta(t, 0.5, intelligence.KeywordRelevance("GDPR applies", "gdpr billing"), 1e-9)
	assert.Equal(t, 0.0, intelligence.KeywordRelevance("anything", ""))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, intelligence.CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, intelligence.CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, intelligence.CosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, intelligence.CosineSimilarity([]float64{0, 0}, []float64{1, 2}))
}

func TestMergeContent(t *testing.T) {
	assert.Equal(t, "Deploys run on Fridays; Deploys need approval",
		intelligence.MergeContent("Deploys run on Fridays", "Deploys need approval"))
	assert.Equal(t, "Deploys run on Fridays.", intelligence.MergeContent("Deploys run on Fridays.", "run on fridays"))
}
