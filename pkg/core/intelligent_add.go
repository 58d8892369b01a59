package core

import (
	"context"
	"errors"
	"fmt"
)

// IngestConversation extracts candidate facts from a conversation turn and
// ingests each of them into scope.
//
// The process:
//  1. Extracts candidates with the extraction collaborator
//  2. Ingests every candidate with IngestCandidate, tagged with the turn as
//     provenance
//
// A failing candidate does not stop the others; the returned error joins
// every failure and the results of the successful candidates are returned.
//
// Example:
//
//	results, err := client.IngestConversation(ctx, &core.Turn{
//	    ConversationID: "c1",
//	    MessageID:      "m7",
//	    Messages: []llm.Message{
//	        {Role: "user", Content: "Since February 15 the billing API uses v3."},
//	    },
//	}, &core.ConversationScope{OwnerUserID: "alice", OrganizationID: "org1", SpaceID: "s1"})
func (c *Client) IngestConversation(ctx context.Context, turn *Turn, scope *ConversationScope) ([]*IngestResult, error) {
	const op = "IngestConversation"
	if turn == nil || len(turn.Messages) == 0 {
		return nil, invalidInput(op, "turn has no messages")
	}
	if scope == nil || scope.OwnerUserID == "" {
		return nil, invalidInput(op, "scope owner is required")
	}
	extractor := c.intel.Extractor
	if extractor == nil {
		return nil, NewMemoryError(op, fmt.Errorf("%w: no extraction collaborator configured", ErrLLMOperation))
	}

	extracted, err := extractor.ExtractCandidates(ctx, turn)
	if err != nil {
		return nil, NewMemoryError(op, fmt.Errorf("%w: %v", ErrLLMOperation, err))
	}

	var model string
	if named, ok := extractor.(interface{ Model() string }); ok {
		model = named.Model()
	}

	results := make([]*IngestResult, 0, len(extracted))
	var errs []error
	for _, e := range extracted {
		result, err := c.IngestCandidate(ctx, fromExtracted(e, scope, turn, model))
		if err != nil {
			errs = append(errs, fmt.Errorf("%q: %w", e.Content, err))
			continue
		}
		results = append(results, result)
	}
	c.logger.Printf("[scopemem] conversation %s: %d candidates, %d stored or skipped, %d failed",
		turn.ConversationID, len(extracted), len(results), len(errs))
	return results, errors.Join(errs...)
}
