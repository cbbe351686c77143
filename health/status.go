package health

import (
	"slices"
	"time"
)

// State is a component's health level. Values are ordered from best to worst.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

func (s State) rank() int {
	switch s {
	case StateHealthy:
		return 0
	case StateDegraded:
		return 1
	default:
		return 2
	}
}

// Status is the last reported health of a component. An aggregate carries
// the statuses it was built from.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      State     `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

func newStatus(component string, state State, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

func (s Status) IsHealthy() bool   { return s.Status == StateHealthy }
func (s Status) IsDegraded() bool  { return s.Status == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// FromError returns an unhealthy status carrying the sanitized error, or a
// healthy one when err is nil.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "ok")
	}
	return NewUnhealthy(component, sanitizeErrorMessage(err.Error()))
}

// Aggregate takes the worst state among subs. No subs is healthy.
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(component, "no components reported")
	}

	worst := StateHealthy
	for _, sub := range subs {
		if sub.Status.rank() > worst.rank() {
			worst = sub.Status
		}
	}

	var status Status
	switch worst {
	case StateHealthy:
		status = NewHealthy(component, "all components healthy")
	case StateDegraded:
		status = NewDegraded(component, "one or more components degraded")
	default:
		status = NewUnhealthy(component, "one or more components unhealthy")
	}
	status.SubStatuses = slices.Clone(subs)
	return status
}
