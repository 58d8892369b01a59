package sharing

import (
	"context"
	"log"
	"sync"

	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// Notifier tells approvers that a proposal awaits review. Delivery is
// fire-and-forget: a failure never affects the proposal.
type Notifier interface {
	NotifyApprovers(ctx context.Context, proposal *storage.Proposal) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, proposal *storage.Proposal) error

// NotifyApprovers implements Notifier.
func (f NotifierFunc) NotifyApprovers(ctx context.Context, proposal *storage.Proposal) error {
	return f(ctx, proposal)
}

// LogNotifier writes one log line per proposal.
type LogNotifier struct {
	Logger *log.Logger
}

// NotifyApprovers implements Notifier.
func (n LogNotifier) NotifyApprovers(_ context.Context, p *storage.Proposal) error {
	logger := n.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[sharing] proposal %s: memory %d -> %s (%s) by %s awaits review",
		p.ID, p.MemoryID, p.ProposedVisibility, p.ProposedScopeID, p.ProposedByUserID)
	return nil
}

// RecordingNotifier keeps every notified proposal in memory.
type RecordingNotifier struct {
	mu        sync.Mutex
	proposals []*storage.Proposal
}

// NotifyApprovers implements Notifier.
func (n *RecordingNotifier) NotifyApprovers(_ context.Context, p *storage.Proposal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := *p
	n.proposals = append(n.proposals, &c)
	return nil
}

// Proposals returns the notified proposals in notification order.
func (n *RecordingNotifier) Proposals() []*storage.Proposal {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*storage.Proposal(nil), n.proposals...)
}
