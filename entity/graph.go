package entity

import (
	"github.com/sanket-mindstix/liota/errors"
)

// Attach links child under parent. The parent must be an edge system or a
// device; a metric child takes the parent's cloud id. Links are made once.
func Attach(parent, child *Registered) error {
	if parent == nil || child == nil {
		return errors.KindError("Entity", "Attach", "parent and child must be registered entities")
	}
	if parent == child {
		return errors.KindError("Entity", "Attach", "%s cannot be its own parent", parent.ref)
	}

	switch parent.Kind() {
	case KindEdgeSystem, KindDevice:
	case KindMetric:
		return errors.KindError("Entity", "Attach", "metric %s cannot be a parent", parent.Name())
	default:
		return errors.KindError("Entity", "Attach", "unknown parent kind %s", parent.Kind())
	}

	for p := parent; p != nil; p = p.Parent() {
		if p == child {
			return errors.KindError("Entity", "Attach", "%s is an ancestor of %s", child.ref, parent.ref)
		}
	}

	parentID := parent.RegID()

	child.mu.Lock()
	defer child.mu.Unlock()

	if child.parent != nil {
		return errors.WrapInvalid(errors.ErrAlreadyLinked, "Entity", "Attach", child.ref.String())
	}

	child.parent = parent
	switch child.ref.Kind() {
	case KindMetric:
		child.regID = parentID
	case KindEdgeSystem, KindDevice:
	}
	return nil
}

// Hierarchy returns the names from the root down to metric, e.g.
// [edge system, device, metric]. It fails for non-metrics and for metrics
// that are not attached.
func Hierarchy(metric *Registered) ([]string, error) {
	if metric == nil {
		return nil, errors.KindError("Entity", "Hierarchy", "nil handle")
	}

	switch metric.Kind() {
	case KindMetric:
	case KindEdgeSystem, KindDevice:
		return nil, errors.KindError("Entity", "Hierarchy", "%s is not a metric", metric.ref)
	default:
		return nil, errors.KindError("Entity", "Hierarchy", "unknown kind %s", metric.Kind())
	}

	parent := metric.Parent()
	if parent == nil {
		return nil, errors.KindError("Entity", "Hierarchy", "metric %s has no registered ancestor", metric.Name())
	}

	names := []string{metric.Name()}
	for p := parent; p != nil; p = p.Parent() {
		names = append(names, p.Name())
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names, nil
}

// PropertyOwner returns the handle whose entity owns properties set on r: r
// itself for edge systems and devices, the parent for metrics.
func PropertyOwner(r *Registered) (*Registered, error) {
	if r == nil {
		return nil, errors.KindError("Entity", "PropertyOwner", "nil handle")
	}

	switch r.Kind() {
	case KindEdgeSystem, KindDevice:
		return r, nil
	case KindMetric:
		parent := r.Parent()
		if parent == nil {
			return nil, errors.WrapInvalid(errors.ErrNotLinked, "Entity", "PropertyOwner", r.Name())
		}
		return parent, nil
	default:
		return nil, errors.KindError("Entity", "PropertyOwner", "unknown kind %s", r.Kind())
	}
}
