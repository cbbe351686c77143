package health

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"
)

// Observer is called after every update, outside the monitor lock.
type Observer func(component string, healthy bool)

// Monitor holds the latest Status per component. A nil *Monitor ignores
// updates.
type Monitor struct {
	mu        sync.RWMutex
	statuses  map[string]Status
	observers []Observer
}

func NewMonitor(observers ...Observer) *Monitor {
	return &Monitor{
		statuses:  make(map[string]Status),
		observers: observers,
	}
}

// Update stores status under name, overriding its Component field.
func (m *Monitor) Update(name string, status Status) {
	if m == nil {
		return
	}
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()

	for _, observe := range m.observers {
		observe(name, status.IsHealthy())
	}
}

func (m *Monitor) UpdateHealthy(name, message string)   { m.Update(name, NewHealthy(name, message)) }
func (m *Monitor) UpdateDegraded(name, message string)  { m.Update(name, NewDegraded(name, message)) }
func (m *Monitor) UpdateUnhealthy(name, message string) { m.Update(name, NewUnhealthy(name, message)) }

func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// AggregateHealth folds every component into one status for system.
// Sub-statuses are ordered by component name.
func (m *Monitor) AggregateHealth(system string) Status {
	m.mu.RLock()
	subs := slices.Collect(maps.Values(m.statuses))
	m.mu.RUnlock()

	slices.SortFunc(subs, func(a, b Status) int { return cmp.Compare(a.Component, b.Component) })
	return Aggregate(system, subs)
}
