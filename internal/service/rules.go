package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/port"

	"go.uber.org/zap"
)

// RuleRepository holds an in-memory snapshot of the declarative rules.
// Rules are loaded explicitly at startup and refreshed on an interval;
// the engine and matcher read consistent snapshots and never mutate them.
type RuleRepository struct {
	store  port.RuleStore
	logger *zap.Logger

	mu          sync.RWMutex
	intentRules []domain.IntentRule
	autoRules   []domain.AutomationRule
	loadedAt    time.Time
}

// NewRuleRepository creates an empty repository. Call Load before first use.
func NewRuleRepository(store port.RuleStore, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{store: store, logger: logger}
}

// Load fetches all rules from the store and swaps the snapshot.
func (r *RuleRepository) Load(ctx context.Context) error {
	intentRules, err := r.store.ListIntentRules(ctx)
	if err != nil {
		return err
	}
	autoRules, err := r.store.ListAutomationRules(ctx)
	if err != nil {
		return err
	}
	// The store returns them ordered, but the execution order is a
	// correctness requirement, so enforce it here as well.
	sort.SliceStable(autoRules, func(i, j int) bool {
		return autoRules[i].Priority < autoRules[j].Priority
	})

	r.mu.Lock()
	r.intentRules = intentRules
	r.autoRules = autoRules
	r.loadedAt = time.Now()
	r.mu.Unlock()

	r.logger.Info("rules loaded",
		zap.Int("intent_rules", len(intentRules)),
		zap.Int("automation_rules", len(autoRules)),
	)
	return nil
}

// StartRefresh reloads rules on the given interval until ctx is cancelled.
// Refresh failures are logged and the previous snapshot stays in effect.
func (r *RuleRepository) StartRefresh(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Load(ctx); err != nil {
					r.logger.Warn("rule refresh failed, keeping previous snapshot", zap.Error(err))
				}
			}
		}
	}()
}

// IntentRules returns the current snapshot of active intent rules.
func (r *RuleRepository) IntentRules() []domain.IntentRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.intentRules
}

// AutomationRules returns the current snapshot of active automation rules
// in ascending priority order.
func (r *RuleRepository) AutomationRules() []domain.AutomationRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.autoRules
}
