package core_test

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"log"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	scopemem "github.com/oceanbase/scopemem-go/pkg/core"
	"github.com/oceanbase/scopemem-go/pkg/hierarchy"
	"github.com/oceanbase/scopemem-go/pkg/intelligence"
	"github.com/oceanbase/scopemem-go/pkg/sharing"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

var (
	t0     = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	silent = log.New(io.Discard, "", 0)

	space1 = storage.ScopeRef{Level: storage.ScopeSpace, ID: "s1"}
	org1   = storage.ScopeRef{Level: storage.ScopeOrganization, ID: "org1"}
)

// clock is a settable test clock.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errEmbedderDown = errors.New("embedder down")

// bowEmbedder is a deterministic bag-of-words embedder: every word is hashed
// into one of 64 buckets.
type bowEmbedder struct {
	mu   sync.Mutex
	fail bool
}

func (e *bowEmbedder) setFail(fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = fail
}

func (e *bowEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	e.mu.Lock()
	fail := e.fail
	e.mu.Unlock()
	if fail {
		return nil, errEmbedderDown
	}

	vec := make([]float64, 64)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%64]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

func (e *bowEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *bowEmbedder) Dimensions() int { return 64 }

func (e *bowEmbedder) Close() error { return nil }

type fixture struct {
	client   *scopemem.Client
	access   *hierarchy.StaticAccess
	embedder *bowEmbedder
	notifier *sharing.RecordingNotifier
	clock    *clock
}

func setup(t *testing.T, opts ...scopemem.ClientOption) *fixture {
	t.Helper()
	return setupConfig(t, testConfig(t), opts...)
}

// setupConfig is setup with a caller-supplied config.
func setupConfig(t *testing.T, cfg *scopemem.Config, opts ...scopemem.ClientOption) *fixture {
	t.Helper()

	access := hierarchy.NewStaticAccess(nil)
	access.GrantAccess("alice", space1)
	access.GrantAccess("bob", space1)
	access.GrantManage("space-owner", space1)
	access.GrantManage("admin", org1)

	f := &fixture{
		access:   access,
		embedder: &bowEmbedder{},
		notifier: &sharing.RecordingNotifier{},
		clock:    &clock{now: t0},
	}

	client, err := scopemem.NewClient(context.Background(), cfg, append(f.options(), opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	f.client = client
	return f
}

func testConfig(t *testing.T) *scopemem.Config {
	return &scopemem.Config{
		Store: scopemem.StoreConfig{
			Provider:   "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "scopemem.db"),
		},
		Engine: &scopemem.EngineConfig{SoftDeadline: 10 * time.Second},
	}
}

func (f *fixture) options() []scopemem.ClientOption {
	return []scopemem.ClientOption{
		scopemem.WithAccessChecker(f.access),
		scopemem.WithEmbedder(f.embedder),
		scopemem.WithNotifier(f.notifier),
		scopemem.WithLogger(silent),
		scopemem.WithClock(f.clock.Now),
		scopemem.WithTokenCounter(intelligence.EstimateCounter{}),
	}
}

// ingest ingests a candidate and fails the test on error.
func (f *fixture) ingest(t *testing.T, c *scopemem.Candidate) *scopemem.IngestResult {
	t.Helper()
	result, err := f.client.IngestCandidate(context.Background(), c)
	require.NoError(t, err)
	return result
}

func privateFact(content string) *scopemem.Candidate {
	return &scopemem.Candidate{
		Content:        content,
		OwnerUserID:    "alice",
		OrganizationID: "org1",
		SpaceID:        "s1",
		Confidence:     0.8,
	}
}

func alice() *scopemem.CallerContext {
	return &scopemem.CallerContext{UserID: "alice", OrganizationID: "org1", GroupIDs: []string{"g1"}, SpaceID: "s1"}
}

func bob() *scopemem.CallerContext {
	return &scopemem.CallerContext{UserID: "bob", OrganizationID: "org1", GroupIDs: []string{"g2"}, SpaceID: "s1"}
}

func contents(fragments []scopemem.Fragment) []string {
	out := make([]string, 0, len(fragments))
	for _, f := range fragments {
		out = append(out, f.Content)
	}
	return out
}

func eventTypes(events []*storage.AuditEvent) []storage.EventType {
	out := make([]storage.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType)
	}
	return out
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
