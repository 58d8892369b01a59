package intelligence_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oceanbase/scopemem-go/pkg/intelligence"
	"github.com/oceanbase/scopemem-go/pkg/storage"
	"github.com/oceanbase/scopemem-go/pkg/storage/sqlite"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := sqlite.NewClient(context.Background(), &sqlite.Config{
		DBPath:         filepath.Join(t.TempDir(), "intelligence.db"),
		CollectionName: "memories",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func spaceMemory(id int64, content string, embedding []float64) *storage.Memory {
	return &storage.Memory{
		ID:             id,
		OwnerUserID:    "alice",
		OrganizationID: "org1",
		SpaceID:        "s1",
		Visibility:     storage.VisibilitySpace,
		Content:        content,
		ContentHash:    intelligence.ContentHash(content),
		MemoryType:     storage.TypeFact,
		Importance:     0.5,
		BaseImportance: 0.5,
		Confidence:     0.8,
		ValidFrom:      t0,
		ApprovalStatus: storage.ApprovalApproved,
		Embedding:      embedding,
		Version:        1,
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
}

func candidateFor(m *storage.Memory, content string, embedding []float64, confidence float64) *intelligence.Candidate {
	return &intelligence.Candidate{
		Content:     content,
		ContentHash: intelligence.ContentHash(content),
		Embedding:   embedding,
		AnchorKey:   m.AnchorKey(),
		Confidence:  confidence,
	}
}
