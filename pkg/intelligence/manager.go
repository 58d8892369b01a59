// Package intelligence implements the decision logic of the memory engine:
// deduplication, temporal conflict resolution, scoring and budgeted
// selection, decay, importance estimation and the LLM-backed extraction and
// compression collaborators.
package intelligence

import (
	"log"

	"github.com/oceanbase/scopemem-go/pkg/llm"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// Config contains configuration for the intelligence components.
type Config struct {
	// SimilarityThreshold is the cosine similarity for near-duplicates.
	SimilarityThreshold float64 `json:"similarity_threshold"`

	// TieBreak is the conflict tie-break policy.
	TieBreak TieBreak `json:"tie_break"`

	// RecencyRate is the per-day decay rate of the recency score.
	RecencyRate float64 `json:"recency_rate"`

	// TokenEncoding is the tiktoken encoding used to size fragments.
	TokenEncoding string `json:"token_encoding"`

	// MinFragmentTokens is the smallest shortened fragment worth including.
	MinFragmentTokens int `json:"min_fragment_tokens"`

	Decay     *DecayConfig     `json:"decay"`
	Promotion *PromotionPolicy `json:"promotion"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		SimilarityThreshold: DefaultSimilarityThreshold,
		TieBreak:            TieBreakNewestCreated,
		RecencyRate:         DefaultRecencyRate,
		TokenEncoding:       DefaultEncoding,
		MinFragmentTokens:   DefaultMinFragmentTokens,
		Decay:               DefaultDecayConfig(),
		Promotion:           DefaultPromotionPolicy(),
	}
}

// Manager wires the intelligence components together.
type Manager struct {
	Evaluator  *Evaluator
	Conflicts  *ConflictResolver
	Scorer     *Scorer
	Selector   *Selector
	Decay      *DecayManager
	Importance *ImportanceEvaluator
	Promotion  *PromotionPolicy

	// Extractor and Summarizer are nil without an LLM provider unless set
	// explicitly.
	Extractor  CandidateExtractor
	Summarizer Summarizer
}

// Options overrides collaborators of a Manager.
type Options struct {
	Counter    TokenCounter
	Extractor  CandidateExtractor
	Summarizer Summarizer
	Logger     *log.Logger
}

// NewManager creates a Manager.
//
// Parameters:
//   - store: Memory store
//   - provider: LLM provider for extraction, importance and compression (may be nil)
//   - cfg: Configuration (nil uses defaults)
//   - opts: Collaborator overrides (may be nil)
func NewManager(store storage.Store, provider llm.Provider, cfg *Config, opts *Options) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	counter := opts.Counter
	if counter == nil {
		counter = NewTokenCounter(cfg.TokenEncoding)
	}

	extractor := opts.Extractor
	summarizer := opts.Summarizer
	if provider != nil {
		if extractor == nil {
			extractor = NewLLMExtractor(provider, "")
		}
		if summarizer == nil {
			summarizer = NewLLMSummarizer(provider)
		}
	}

	promotion := cfg.Promotion
	if promotion == nil {
		promotion = DefaultPromotionPolicy()
	}

	selector := NewSelector(counter, summarizer, logger)
	if cfg.MinFragmentTokens > 0 {
		selector.minFragment = cfg.MinFragmentTokens
	}

	return &Manager{
		Evaluator:  NewEvaluator(store, cfg.SimilarityThreshold),
		Conflicts:  NewConflictResolver(cfg.TieBreak),
		Scorer:     NewScorer(cfg.RecencyRate),
		Selector:   selector,
		Decay:      NewDecayManager(cfg.Decay, store, logger),
		Importance: NewImportanceEvaluator(provider),
		Promotion:  promotion,
		Extractor:  extractor,
		Summarizer: summarizer,
	}
}
