// Copyright 2025 Certen Protocol
//
// Enforcement Monitor (C6): a cooperative ticker that watches one
// engine's pending action and turn variable for timeout stalls, double
// moves, and disallowed action types, emitting CheatEvidence on a
// callback. Grounded on the ticker + callback + mutex-guarded status
// pattern used for consensus stall detection in this codebase's
// blockchain-health monitor, generalized from block-height stalls to
// turn/timeout stalls.

package enforcement

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zerotrust/protokernel/pkg/evidence"
	"github.com/zerotrust/protokernel/pkg/metrics"
)

// Source is the minimal view of a protocol engine the monitor needs.
// pkg/protocol.Engine satisfies this without enforcement importing
// protocol directly, keeping the dependency one-directional.
type Source interface {
	PendingActionSnapshot() (id, actionType, owedBy string, startedAt, timeoutMs int64, ok bool)
	Turn() string
	Nowish() int64
}

// Config configures monitor timing; zero values fall back to spec
// defaults.
type Config struct {
	TickInterval time.Duration // default 1s
}

// DefaultConfig returns the spec's default monitor_tick_ms = 1000.
func DefaultConfig() Config {
	return Config{TickInterval: time.Second}
}

// Monitor watches one Source for TIMEOUT_STALL, DOUBLE_MOVE, and
// INVALID_MOVE conditions, cooperatively, on its own ticker goroutine.
type Monitor struct {
	mu sync.RWMutex

	source Source
	tick   time.Duration

	allowedActions map[string]bool

	onViolation func(evidence.CheatEvidence)
	metrics     *metrics.Registry
	logger      *log.Logger

	lastSeenActionID string

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New builds a Monitor over source. metricsReg may be nil (ambient
// observability only — see pkg/metrics).
func New(source Source, cfg Config, metricsReg *metrics.Registry) *Monitor {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		source:         source,
		tick:           tick,
		allowedActions: make(map[string]bool),
		metrics:        metricsReg,
		logger:         log.New(log.Writer(), "[enforcement] ", log.LstdFlags),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// SetOnViolation sets the callback invoked with evidence whenever a
// violation is detected. The callback runs while the monitor holds its
// own lock (see emit); invalidating the engine from it takes only the
// engine's lock.
func (m *Monitor) SetOnViolation(fn func(evidence.CheatEvidence)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onViolation = fn
}

// SetAllowedActions replaces the application-declared action-type
// allowlist checked against every pending action's type.
func (m *Monitor) SetAllowedActions(allowed map[string]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowedActions = allowed
}

// Start begins the cooperative tick loop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("enforcement: monitor already running")
	}
	m.running = true
	m.mu.Unlock()

	go m.loop()
	return nil
}

// Stop halts the tick loop. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.running = false
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check performs one evaluation pass. Exposed directly so tests and
// callers with their own scheduler can drive it without a live ticker.
func (m *Monitor) Check() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.ObserveMonitorTick()

	id, actionType, owedBy, startedAt, timeoutMs, ok := m.source.PendingActionSnapshot()
	if !ok {
		return
	}

	now := m.source.Nowish()

	if m.allowedActions != nil && len(m.allowedActions) > 0 && actionType != "" {
		if !m.allowedActions[actionType] {
			m.emit(evidence.InvalidMoveEvidence(owedBy, map[string]interface{}{
				"action_id": id,
				"type":      actionType,
			}, now))
			return
		}
	}

	if timeoutMs > 0 && now-startedAt > timeoutMs {
		if id == m.lastSeenActionID {
			return
		}
		m.lastSeenActionID = id
		m.emit(evidence.TimeoutStallEvidence(owedBy, id, now))
	}
}

// ObserveAppendedAction lets the caller report an already-appended
// action's participant so the monitor can flag a DOUBLE_MOVE even when
// the inline verify_peer_action path (pkg/protocol.Engine) was bypassed
// — e.g. when replaying transactions from a snapshot.
func (m *Monitor) ObserveAppendedAction(participantID string, atMillis int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turn := m.source.Turn()
	if turn != "" && participantID != turn {
		m.emit(evidence.DoubleMoveEvidence(participantID, map[string]interface{}{
			"turn_at_append": turn,
		}, atMillis))
	}
}

// emit runs synchronously under m.mu so the caller observes the
// violation before Check/ObserveAppendedAction returns. Callbacks must
// not re-enter the monitor (Check, Stop, SetAllowedActions) or they
// will deadlock on m.mu.
func (m *Monitor) emit(ev evidence.CheatEvidence) {
	m.logger.Printf("violation detected: kind=%s accused=%s", ev.Kind, ev.Accused)
	m.metrics.ObserveViolation(string(ev.Kind))
	if m.onViolation != nil {
		m.onViolation(ev)
	}
}
