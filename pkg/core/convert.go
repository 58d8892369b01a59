package core

import (
	"strings"
	"time"

	"github.com/oceanbase/scopemem-go/pkg/intelligence"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// toStorageMemory builds the row a candidate would be stored as, without ID,
// embedding, importance or approval state.
func toStorageMemory(c *Candidate, now time.Time) *storage.Memory {
	visibility := c.Visibility
	if visibility == "" {
		visibility = storage.VisibilityPrivate
	}
	memoryType := c.MemoryType
	if !memoryType.Valid() {
		memoryType = storage.TypeFact
	}
	contributor := c.ContributedByUserID
	if contributor == "" {
		contributor = c.OwnerUserID
	}
	validFrom := now
	if c.ValidFrom != nil {
		validFrom = c.ValidFrom.UTC()
	}

	content := strings.TrimSpace(c.Content)
	m := &storage.Memory{
		OwnerUserID:          c.OwnerUserID,
		ContributedByUserID:  contributor,
		OrganizationID:       c.OrganizationID,
		GroupID:              c.GroupID,
		SpaceID:              c.SpaceID,
		AreaID:               c.AreaID,
		TaskID:               c.TaskID,
		Visibility:           visibility,
		Content:              content,
		ContentHash:          intelligence.ContentHash(content),
		MemoryType:           memoryType,
		SubjectKey:           c.SubjectKey,
		Attributes:           c.Attributes,
		Confidence:           c.Confidence,
		ValidFrom:            validFrom,
		SourceConversationID: c.SourceConversationID,
		SourceMessageID:      c.SourceMessageID,
		ExtractionModel:      c.ExtractionModel,
		Pinned:               c.Pinned,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	return m
}

// toEvaluatorCandidate converts a row-to-be into the evaluator's input.
func toEvaluatorCandidate(m *storage.Memory, explicitValidFrom bool) *intelligence.Candidate {
	c := &intelligence.Candidate{
		Content:     m.Content,
		ContentHash: m.ContentHash,
		Embedding:   m.Embedding,
		AnchorKey:   m.AnchorKey(),
		SubjectKey:  m.SubjectKey,
		Attributes:  m.Attributes,
		Confidence:  m.Confidence,
	}
	if explicitValidFrom {
		from := m.ValidFrom
		c.ValidFrom = &from
	}
	return c
}

// fromExtracted converts an extracted fact into a candidate in scope.
func fromExtracted(e intelligence.Extracted, scope *ConversationScope, turn *Turn, model string) *Candidate {
	return &Candidate{
		Content:              e.Content,
		MemoryType:           e.Type,
		OwnerUserID:          scope.OwnerUserID,
		OrganizationID:       scope.OrganizationID,
		GroupID:              scope.GroupID,
		SpaceID:              scope.SpaceID,
		AreaID:               scope.AreaID,
		TaskID:               scope.TaskID,
		Visibility:           scope.Visibility,
		Confidence:           e.Confidence,
		SubjectKey:           e.SubjectKey,
		Attributes:           e.Attributes,
		ValidFrom:            e.ValidFrom,
		SourceConversationID: turn.ConversationID,
		SourceMessageID:      turn.MessageID,
		ExtractionModel:      model,
	}
}

// toFragment converts a selected item into a context fragment.
func toFragment(s intelligence.Selected) Fragment {
	return Fragment{
		Content:        s.Content,
		SourceMemoryID: s.Memory.ID,
		Score:          s.Breakdown.Total,
		ScopeLevel:     intelligence.MemoryLevel(s.Memory),
		Breakdown:      s.Breakdown,
		Tokens:         s.Tokens,
		Pinned:         s.Pinned,
		Compressed:     s.Compressed,
		Truncated:      s.Truncated,
	}
}
