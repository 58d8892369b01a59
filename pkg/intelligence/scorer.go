package intelligence

import (
	"fmt"
	"math"
	"time"

	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// ScoringProfile weights the components of the composite score. Weights
// must be non-negative; they need not sum to one.
type ScoringProfile struct {
	Name       string  `json:"name"`
	Semantic   float64 `json:"semantic"`
	Keyword    float64 `json:"keyword"`
	Proximity  float64 `json:"proximity"`
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`
}

// Validate checks the weights.
func (p ScoringProfile) Validate() error {
	for name, w := range map[string]float64{
		"semantic": p.Semantic, "keyword": p.Keyword, "proximity": p.Proximity,
		"recency": p.Recency, "importance": p.Importance,
	} {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("profile %s: %s weight must be non-negative", p.Name, name)
		}
	}
	return nil
}

// RetrievalProfile is the hybrid search profile: keyword matching takes the
// place of scope proximity.
var RetrievalProfile = ScoringProfile{
	Name:     "retrieval",
	Semantic: 0.5,
	Keyword:  0.3,
	Recency:  0.2,
}

// AssemblyProfile is the context assembly profile.
var AssemblyProfile = ScoringProfile{
	Name:       "assembly",
	Semantic:   0.4,
	Proximity:  0.3,
	Recency:    0.2,
	Importance: 0.1,
}

// Query is what memories are scored against.
type Query struct {
	Text      string
	Embedding []float64
}

// Breakdown is a score with its components, before weighting.
type Breakdown struct {
	Semantic   float64 `json:"semantic"`
	Keyword    float64 `json:"keyword"`
	Proximity  float64 `json:"proximity"`
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`
	Total      float64 `json:"total"`
}

// ScopeProximity returns the fixed proximity weight of a scope level.
func ScopeProximity(level storage.ScopeLevel) float64 {
	switch level {
	case storage.ScopeArea, storage.ScopeTask:
		return 1.0
	case storage.ScopeSpace:
		return 0.8
	case storage.ScopeGroup:
		return 0.6
	case storage.ScopeOrganization:
		return 0.4
	}
	return 1.0
}

// DefaultRecencyRate is the per-day rate of the recency decay.
const DefaultRecencyRate = 0.1

// Scorer computes composite relevance scores.
type Scorer struct {
	recencyRate float64
}

// NewScorer creates a scorer. recencyRate is the per-day exponential decay
// rate of the recency component; zero uses DefaultRecencyRate.
func NewScorer(recencyRate float64) *Scorer {
	if recencyRate <= 0 {
		recencyRate = DefaultRecencyRate
	}
	return &Scorer{recencyRate: recencyRate}
}

// Score computes the score of memory m for the query under the profile.
// Scope proximity is a fixed lookup of the memory's level; the caller's
// scope chain decides which memories are candidates, not how they rank.
//
// When either the query or the memory has no embedding, the semantic
// component falls back to keyword relevance. The score is non-decreasing in
// every component, including importance.
func (s *Scorer) Score(m *storage.Memory, q Query, now time.Time, profile ScoringProfile) Breakdown {
	var b Breakdown

	b.Keyword = KeywordRelevance(m.Content, q.Text)
	if len(q.Embedding) > 0 && len(m.Embedding) > 0 {
		b.Semantic = clamp01(CosineSimilarity(q.Embedding, m.Embedding))
	} else {
		b.Semantic = b.Keyword
	}

	b.Proximity = ScopeProximity(MemoryLevel(m))
	b.Recency = s.Recency(m.LastTouched(), now)
	b.Importance = clamp01(m.Importance)

	b.Total = profile.Semantic*b.Semantic +
		profile.Keyword*b.Keyword +
		profile.Proximity*b.Proximity +
		profile.Recency*b.Recency +
		profile.Importance*b.Importance
	return b
}

// Recency returns exp(-rate * days since last), capped at 1.
func (s *Scorer) Recency(last, now time.Time) float64 {
	days := now.Sub(last).Hours() / 24
	if days <= 0 {
		return 1
	}
	return math.Exp(-s.recencyRate * days)
}

// MemoryLevel returns the scope level a memory is reported at: the
// visibility level for shared memories, the anchor level for private ones.
func MemoryLevel(m *storage.Memory) storage.ScopeLevel {
	if level := m.Visibility.Level(); level != "" {
		return level
	}
	anchor := m.Anchor()
	if anchor.IsZero() {
		return storage.ScopeTask
	}
	return anchor.Level
}
