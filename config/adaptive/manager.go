package adaptive

import (
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("alice/config")

// ChangeEvent describes one applied configuration update.
type ChangeEvent struct {
	Timestamp time.Time
	Reason    string
}

// Manager holds the live configuration and applies updates atomically.
// Readers get a copy; writers go through Update so every change is validated
// and logged before anyone can observe it.
type Manager struct {
	mu  sync.RWMutex
	cfg *Config

	subMu       sync.Mutex
	subscribers []chan ChangeEvent
}

// NewManager creates a manager around the given configuration, or the
// defaults when cfg is nil.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &Manager{cfg: cfg}, nil
}

// Current returns a copy of the live configuration. The MaxShare map is
// cloned so callers cannot mutate shared state.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := *m.cfg
	shares := make(map[string]float64, len(m.cfg.Quota.MaxShare))
	for k, v := range m.cfg.Quota.MaxShare {
		shares[k] = v
	}
	out.Quota.MaxShare = shares
	return out
}

// Update applies fn to a copy of the configuration, validates the result and
// swaps it in atomically. Subscribers are notified after the swap.
func (m *Manager) Update(reason string, fn func(*Config) error) error {
	m.mu.Lock()

	next := m.currentLocked()
	if err := fn(&next); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("rejected update %q: %w", reason, err)
	}
	m.cfg = &next
	m.mu.Unlock()

	log.Infow("configuration updated", "reason", reason)
	m.notify(ChangeEvent{Timestamp: time.Now(), Reason: reason})
	return nil
}

func (m *Manager) currentLocked() Config {
	out := *m.cfg
	shares := make(map[string]float64, len(m.cfg.Quota.MaxShare))
	for k, v := range m.cfg.Quota.MaxShare {
		shares[k] = v
	}
	out.Quota.MaxShare = shares
	return out
}

// Subscribe returns a channel receiving one event per applied update. Slow
// subscribers drop events rather than blocking the updater.
func (m *Manager) Subscribe() <-chan ChangeEvent {
	ch := make(chan ChangeEvent, 16)
	m.subMu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Manager) notify(ev ChangeEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
