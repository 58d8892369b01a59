package core

import (
	"log"
	"time"

	"github.com/oceanbase/scopemem-go/pkg/embedder"
	"github.com/oceanbase/scopemem-go/pkg/hierarchy"
	"github.com/oceanbase/scopemem-go/pkg/intelligence"
	"github.com/oceanbase/scopemem-go/pkg/llm"
	"github.com/oceanbase/scopemem-go/pkg/sharing"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// AssembleOption is a function type for configuring AssembleContext.
type AssembleOption func(*AssembleOptions)

// AssembleOptions contains configuration options for AssembleContext.
type AssembleOptions struct {
	// AsOf answers the query as of a point in time. Nil means now.
	AsOf *time.Time

	// SoftDeadline bounds ranking time. Zero uses the engine default.
	SoftDeadline time.Duration

	// CandidateLimit caps the candidates read. Zero uses the engine default.
	CandidateLimit int
}

// WithAsOf runs a point-in-time query.
//
// Example:
//
//	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
//	result, _ := client.AssembleContext(ctx, caller, "api version", 200, core.AssemblyProfile, core.WithAsOf(at))
func WithAsOf(t time.Time) AssembleOption {
	return func(opts *AssembleOptions) {
		opts.AsOf = &t
	}
}

// WithSoftDeadline sets the ranking deadline.
func WithSoftDeadline(d time.Duration) AssembleOption {
	return func(opts *AssembleOptions) {
		opts.SoftDeadline = d
	}
}

// WithCandidateLimit caps the candidates read from the store.
func WithCandidateLimit(n int) AssembleOption {
	return func(opts *AssembleOptions) {
		opts.CandidateLimit = n
	}
}

func applyAssembleOptions(opts []AssembleOption) *AssembleOptions {
	options := &AssembleOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// DecayOption is a function type for configuring RunDecayPass.
type DecayOption func(*DecayOptions)

// DecayOptions contains configuration options for RunDecayPass.
type DecayOptions struct {
	// AfterID resumes a pass after the given watermark.
	AfterID int64
}

// WithAfterID resumes an interrupted decay pass.
func WithAfterID(id int64) DecayOption {
	return func(opts *DecayOptions) {
		opts.AfterID = id
	}
}

// ClientOption overrides a collaborator built from Config.
type ClientOption func(*clientOptions)

type clientOptions struct {
	store      storage.Store
	embedder   embedder.Provider
	llm        llm.Provider
	access     hierarchy.AccessChecker
	notifier   sharing.Notifier
	logger     *log.Logger
	now        func() time.Time
	counter    intelligence.TokenCounter
	extractor  intelligence.CandidateExtractor
	summarizer intelligence.Summarizer
}

// WithStore uses an existing store instead of opening one from Config.
// The client takes ownership and closes it.
func WithStore(s storage.Store) ClientOption {
	return func(o *clientOptions) { o.store = s }
}

// WithEmbedder sets the embedding collaborator.
func WithEmbedder(e embedder.Provider) ClientOption {
	return func(o *clientOptions) { o.embedder = e }
}

// WithLLM sets the LLM provider.
func WithLLM(p llm.Provider) ClientOption {
	return func(o *clientOptions) { o.llm = p }
}

// WithAccessChecker sets the access-control collaborator.
func WithAccessChecker(a hierarchy.AccessChecker) ClientOption {
	return func(o *clientOptions) { o.access = a }
}

// WithNotifier sets the approver notification collaborator.
func WithNotifier(n sharing.Notifier) ClientOption {
	return func(o *clientOptions) { o.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithClock sets the clock used for validity, decay and audit timestamps.
func WithClock(now func() time.Time) ClientOption {
	return func(o *clientOptions) { o.now = now }
}

// WithTokenCounter sets the token counter used for budgets.
func WithTokenCounter(c intelligence.TokenCounter) ClientOption {
	return func(o *clientOptions) { o.counter = c }
}

// WithExtractor sets the candidate extraction collaborator.
func WithExtractor(e intelligence.CandidateExtractor) ClientOption {
	return func(o *clientOptions) { o.extractor = e }
}

// WithSummarizer sets the compression collaborator.
func WithSummarizer(s intelligence.Summarizer) ClientOption {
	return func(o *clientOptions) { o.summarizer = s }
}
