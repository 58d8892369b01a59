package intelligence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// DecayConfig configures the decay engine.
type DecayConfig struct {
	// DecayRate is the factor applied per half-life. Default: 0.5.
	DecayRate float64 `json:"decay_rate"`

	// HalfLifeDays is the number of days per application of DecayRate.
	// Default: 30.
	HalfLifeDays float64 `json:"half_life_days"`

	// AccessWindow exempts recently accessed memories from decay.
	// Default: 24h.
	AccessWindow time.Duration `json:"access_window"`

	// RetentionFloor is the importance below which memories may be
	// archived. Default: 0.05.
	RetentionFloor float64 `json:"retention_floor"`

	// GracePeriod is how long a memory must go unaccessed before it may be
	// archived. Default: 90 days.
	GracePeriod time.Duration `json:"grace_period"`

	// ReinforcementFactor determines how much base importance grows on
	// access. Default: 0.1.
	ReinforcementFactor float64 `json:"reinforcement_factor"`

	// BatchSize is the number of memories read per page. Default: 200.
	BatchSize int `json:"batch_size"`
}

// DefaultDecayConfig returns the default decay configuration.
func DefaultDecayConfig() *DecayConfig {
	return &DecayConfig{
		DecayRate:           0.5,
		HalfLifeDays:        30,
		AccessWindow:        24 * time.Hour,
		RetentionFloor:      0.05,
		GracePeriod:         90 * 24 * time.Hour,
		ReinforcementFactor: 0.1,
		BatchSize:           200,
	}
}

// DecayManager ages memory importance along a forgetting curve.
//
// Decay is a pure function of a memory's base importance (its importance at
// the last access) and the time since the last access. Running a pass twice
// at the same instant, or resuming an interrupted pass, therefore never
// applies decay twice.
//
// Example usage:
//
//	manager := NewDecayManager(nil, store, nil)
//	report, err := manager.RunPass(ctx, time.Now(), 0)
type DecayManager struct {
	cfg    *DecayConfig
	store  storage.Store
	logger *log.Logger
}

// NewDecayManager creates a decay manager. A nil config uses
// DefaultDecayConfig; zero fields take their defaults.
func NewDecayManager(cfg *DecayConfig, store storage.Store, logger *log.Logger) *DecayManager {
	def := DefaultDecayConfig()
	if cfg == nil {
		cfg = def
	} else {
		c := *cfg
		if c.DecayRate <= 0 || c.DecayRate >= 1 {
			c.DecayRate = def.DecayRate
		}
		if c.HalfLifeDays <= 0 {
			c.HalfLifeDays = def.HalfLifeDays
		}
		if c.AccessWindow < 0 {
			c.AccessWindow = def.AccessWindow
		}
		if c.RetentionFloor <= 0 {
			c.RetentionFloor = def.RetentionFloor
		}
		if c.GracePeriod <= 0 {
			c.GracePeriod = def.GracePeriod
		}
		if c.ReinforcementFactor <= 0 {
			c.ReinforcementFactor = def.ReinforcementFactor
		}
		if c.BatchSize <= 0 {
			c.BatchSize = def.BatchSize
		}
		cfg = &c
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DecayManager{cfg: cfg, store: store, logger: logger}
}

// Config returns the effective configuration.
func (d *DecayManager) Config() DecayConfig { return *d.cfg }

// DecayedImportance returns the importance of a memory with the given base
// importance, last touched at lastTouched, as of now:
//
//	importance = base * decayRate ^ (daysSinceAccess / halfLifeDays)
//
// Memories touched within the access window keep their base importance.
func (d *DecayManager) DecayedImportance(base float64, lastTouched, now time.Time) float64 {
	elapsed := now.Sub(lastTouched)
	if elapsed <= d.cfg.AccessWindow || elapsed <= 0 {
		return base
	}
	days := elapsed.Hours() / 24
	return base * math.Pow(d.cfg.DecayRate, days/d.cfg.HalfLifeDays)
}

// Reinforce strengthens importance when a memory is accessed.
//
// The reinforcement formula is:
//
//	new = min(1.0, current + reinforcement_factor * (1 - current))
//
// Low-importance memories gain more than high-importance ones.
func (d *DecayManager) Reinforce(current float64) float64 {
	next := current + d.cfg.ReinforcementFactor*(1.0-current)
	if next > 1.0 {
		return 1.0
	}
	return next
}

// ShouldArchive reports whether a memory with the given importance has
// fallen below the retention floor and gone unaccessed for the grace period.
func (d *DecayManager) ShouldArchive(importance float64, lastTouched, now time.Time) bool {
	return importance < d.cfg.RetentionFloor && now.Sub(lastTouched) >= d.cfg.GracePeriod
}

// Plan returns the memory as it should be after decay at now, and whether
// it changed. The input is not modified.
func (d *DecayManager) Plan(m *storage.Memory, now time.Time) (*storage.Memory, bool, bool) {
	if m.ArchivedAt != nil {
		return m, false, false
	}
	base := m.BaseImportance
	if base == 0 && m.Importance > 0 && m.AccessCount == 0 {
		base = m.Importance
	}

	importance := d.DecayedImportance(base, m.LastTouched(), now)
	archive := !m.Pinned && d.ShouldArchive(importance, m.LastTouched(), now)

	if !archive && math.Abs(importance-m.Importance) < 1e-9 {
		return m, false, false
	}

	next := m.Clone()
	next.Importance = importance
	next.BaseImportance = base
	if archive {
		at := now
		next.ArchivedAt = &at
	}
	next.UpdatedAt = now
	return next, true, archive
}

// DecayReport summarizes a decay pass.
type DecayReport struct {
	Scanned   int `json:"scanned"`
	Decayed   int `json:"decayed"`
	Archived  int `json:"archived"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`

	// Watermark is the highest memory ID processed. Passing it back as
	// afterID resumes an interrupted pass.
	Watermark int64 `json:"watermark"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// maxWriteAttempts bounds optimistic retries per memory.
const maxWriteAttempts = 3

// RunPass decays every non-archived memory with ID > afterID as of now.
// It stops early when ctx is done and returns the partial report together
// with the context error.
func (d *DecayManager) RunPass(ctx context.Context, now time.Time, afterID int64) (*DecayReport, error) {
	report := &DecayReport{Watermark: afterID, StartedAt: time.Now().UTC()}
	defer func() { report.FinishedAt = time.Now().UTC() }()

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		batch, err := d.store.ListMemories(ctx, &storage.ListOptions{
			AfterID: report.Watermark,
			Limit:   d.cfg.BatchSize,
			Order:   storage.OrderByID,
		})
		if err != nil {
			return report, fmt.Errorf("RunPass: %w", err)
		}

		for _, m := range batch {
			report.Scanned++
			changed, archived, err := d.decayOne(ctx, m, now)
			switch {
			case err != nil:
				report.Failed++
				d.logger.Printf("[decay] memory %d: %v", m.ID, err)
			case archived:
				report.Archived++
			case changed:
				report.Decayed++
			default:
				report.Unchanged++
			}
			report.Watermark = m.ID
		}

		if len(batch) < d.cfg.BatchSize {
			return report, nil
		}
	}
}

func (d *DecayManager) decayOne(ctx context.Context, m *storage.Memory, now time.Time) (bool, bool, error) {
	current := m
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		next, changed, archive := d.Plan(current, now)
		if !changed {
			return false, false, nil
		}

		err := d.store.UpdateMemory(ctx, next, current.Version)
		if err == nil {
			if archive {
				event := &storage.AuditEvent{
					EventType:   storage.EventArchived,
					EntityType:  storage.EntityMemory,
					EntityID:    strconv.FormatInt(m.ID, 10),
					ActorUserID: "system:decay",
					Before:      fmt.Sprintf("importance=%.4f", current.Importance),
					After:       fmt.Sprintf("importance=%.4f archived", next.Importance),
					Scope:       current.Anchor(),
					CreatedAt:   now,
				}
				if err := d.store.AppendAudit(ctx, event); err != nil {
					d.logger.Printf("[decay] audit archive of memory %d: %v", m.ID, err)
				}
			}
			return true, archive, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return false, false, err
		}

		current, err = d.store.GetMemory(ctx, m.ID)
		if err != nil {
			return false, false, err
		}
	}
	return false, false, storage.ErrVersionConflict
}
