package registry

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EvalCapturer persists a regression case when a patch is created (spec
// §4.9). Defined narrowly here so the registry does not import
// internal/evalcapture directly.
type EvalCapturer interface {
	Capture(rhythmHash string, contextLogs []string) error
}

// PatchRule is the durable representation of a permanent allow-list patch.
type PatchRule struct {
	RhythmHash string
	RuleKind   string
	Reason     string
	CreatedTS  int64
	IsActive   bool
}

// Suppression is a time-bounded, process-local silencing of a rhythm_hash.
type Suppression struct {
	RhythmHash string
	ExpiresAt  int64
}

// Rules is the combined view list_rules returns: active durable patches
// plus non-expired suppressions (spec §4.3).
type Rules struct {
	Patches      []PatchRule
	Suppressions []Suppression
}

// Registry is the Control Registry: the single source of truth for "is
// this fingerprint silenced?". patches is durable (SQLite); suppressions
// and activePatches are in-memory, guarded by a RWMutex for the
// exclusive-write/shared-read discipline spec §4.3 requires.
type Registry struct {
	store *store
	evals EvalCapturer
	clock func() int64
	logger *zap.Logger

	mu            sync.RWMutex
	suppressions  map[string]int64 // rhythm_hash -> expiry unix seconds
	activePatches map[string]bool  // rhythm_hash -> true, mirror of durable active patches
}

// Open opens (creating if absent) the durable store at path and rebuilds
// the in-memory active-patch mirror from it (spec §4.3: "Startup loads
// active patches into memory from the durable store").
func Open(path string, evals EvalCapturer, logger *zap.Logger) (*Registry, error) {
	s, err := openStore(path)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		store:         s,
		evals:         evals,
		clock:         func() int64 { return time.Now().Unix() },
		logger:        logger,
		suppressions:  make(map[string]int64),
		activePatches: make(map[string]bool),
	}

	if err := r.reload(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) reload() error {
	rows, err := r.store.loadActivePatches()
	if err != nil {
		return fmt.Errorf("registry: reload active patches: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.activePatches = make(map[string]bool, len(rows))
	for _, row := range rows {
		r.activePatches[row.RhythmHash] = true
	}
	if r.logger != nil {
		r.logger.Info("loaded patch registry", zap.Int("active_patches", len(rows)))
	}
	return nil
}

// Close releases the underlying durable store.
func (r *Registry) Close() error {
	return r.store.Close()
}

// Ping satisfies health.StorePinger.
func (r *Registry) Ping() error {
	return r.store.Ping()
}

// IsSilenced reports whether h is currently silenced: either an active
// durable patch, or a non-expired suppression (spec §4.3 is_silenced).
// Lazily evicts an expired suppression entry when it is encountered, per
// the spec's documented side effect.
func (r *Registry) IsSilenced(h string) bool {
	r.mu.RLock()
	if r.activePatches[h] {
		r.mu.RUnlock()
		return true
	}
	expiry, ok := r.suppressions[h]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	if r.clock() < expiry {
		return true
	}

	r.mu.Lock()
	if exp, stillThere := r.suppressions[h]; stillThere && exp == expiry {
		delete(r.suppressions, h)
	}
	r.mu.Unlock()
	return false
}

// Suppress sets (or overwrites) the suppression expiry for h (spec §4.3
// suppress; P7: calling this twice leaves exactly one entry whose expiry
// is derived from the second call).
func (r *Registry) Suppress(h string, durationSec int64) {
	expiry := r.clock() + durationSec
	r.mu.Lock()
	r.suppressions[h] = expiry
	r.mu.Unlock()
}

// DeleteSuppression removes h from the in-memory suppression map.
func (r *Registry) DeleteSuppression(h string) {
	r.mu.Lock()
	delete(r.suppressions, h)
	r.mu.Unlock()
}

// Patch upserts a durable ALLOW_LIST patch for h, reactivating it on
// conflict, then asks Eval Capture to persist a regression case (spec
// §4.3 patch). The durable write is committed before the in-memory mirror
// is mutated — on durable failure, in-memory state is untouched.
func (r *Registry) Patch(h, reason string, contextLogs []string) error {
	row := patchRow{
		RhythmHash: h,
		Rule:       "ALLOW_LIST",
		Reason:     reason,
		CreatedTS:  r.clock(),
	}
	if err := r.store.upsertPatch(row); err != nil {
		return err
	}

	r.mu.Lock()
	r.activePatches[h] = true
	r.mu.Unlock()

	if r.evals != nil {
		if err := r.evals.Capture(h, contextLogs); err != nil && r.logger != nil {
			r.logger.Warn("eval capture failed", zap.String("rhythm_hash", h), zap.Error(err))
		}
	}
	return nil
}

// DeletePatch marks h's durable patch row inactive and removes it from the
// in-memory mirror.
func (r *Registry) DeletePatch(h string) error {
	if err := r.store.deactivatePatch(h); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.activePatches, h)
	r.mu.Unlock()
	return nil
}

// ListRules returns active durable patches plus non-expired suppressions
// (spec §4.3 list_rules).
func (r *Registry) ListRules() (Rules, error) {
	rows, err := r.store.loadActivePatches()
	if err != nil {
		return Rules{}, err
	}

	patches := make([]PatchRule, 0, len(rows))
	for _, row := range rows {
		patches = append(patches, PatchRule{
			RhythmHash: row.RhythmHash,
			RuleKind:   row.Rule,
			Reason:     row.Reason,
			CreatedTS:  row.CreatedTS,
			IsActive:   row.IsActive,
		})
	}

	now := r.clock()
	r.mu.RLock()
	suppressions := make([]Suppression, 0, len(r.suppressions))
	for h, expiry := range r.suppressions {
		if now < expiry {
			suppressions = append(suppressions, Suppression{RhythmHash: h, ExpiresAt: expiry})
		}
	}
	r.mu.RUnlock()

	return Rules{Patches: patches, Suppressions: suppressions}, nil
}
