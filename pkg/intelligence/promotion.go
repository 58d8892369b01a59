package intelligence

import (
	"time"

	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// PromotionPolicy decides when a memory is hot enough to propose sharing it
// one level wider.
type PromotionPolicy struct {
	// MinAccessCount is the minimum number of selections. Default: 3.
	MinAccessCount int `json:"min_access_count"`

	// MinAge is how long the memory must have existed. Default: 24h.
	MinAge time.Duration `json:"min_age"`

	// MinImportance is the minimum current importance. Default: 0.6.
	MinImportance float64 `json:"min_importance"`
}

// DefaultPromotionPolicy returns the default promotion thresholds.
func DefaultPromotionPolicy() *PromotionPolicy {
	return &PromotionPolicy{
		MinAccessCount: 3,
		MinAge:         24 * time.Hour,
		MinImportance:  0.6,
	}
}

// ShouldPromote reports whether m qualifies for an automatic proposal.
// Only open, approved, non-archived memories below organization visibility
// qualify.
func (p *PromotionPolicy) ShouldPromote(m *storage.Memory, now time.Time) bool {
	if m == nil || !m.IsOpen() || m.ApprovalStatus != storage.ApprovalApproved {
		return false
	}
	if m.Visibility == storage.VisibilityOrganization {
		return false
	}
	if m.AccessCount < p.MinAccessCount {
		return false
	}
	if now.Sub(m.CreatedAt) < p.MinAge {
		return false
	}
	return m.Importance >= p.MinImportance
}

// widening lists visibilities from narrowest to broadest.
var widening = []storage.Visibility{
	storage.VisibilityPrivate,
	storage.VisibilityArea,
	storage.VisibilitySpace,
	storage.VisibilityGroup,
	storage.VisibilityOrganization,
}

// NextVisibility returns the narrowest visibility wider than m's current one
// for which m carries a scope ID.
func NextVisibility(m *storage.Memory) (storage.Visibility, string, bool) {
	rank := m.Visibility.Rank()
	if m.Visibility == "" {
		rank = 0
	}
	for _, v := range widening {
		if v.Rank() <= rank {
			continue
		}
		if id := m.ScopeID(v.Level()); id != "" {
			return v, id, true
		}
	}
	return "", "", false
}
