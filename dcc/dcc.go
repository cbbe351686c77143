// Package dcc defines the capability every Data Center Component provider
// implements and the plumbing providers share: local metric registration,
// unit metadata, per-metric messaging attributes and batch publishing.
//
// A provider maps four operations onto its cloud protocol:
//
//	reg, err := d.Register(ctx, edge)            // blocks until the cloud assigns an id
//	err = d.CreateRelationship(ctx, reg, metric) // links; a metric child inherits the id
//	err = d.SetProperties(ctx, reg, props)       // property update plus local cache
//	payload, err := d.FormatBatch(metric)        // nil payload means no data
//
// Publish formats and sends one batch through the provider's comms.
package dcc

import (
	"context"

	"github.com/sanket-mindstix/liota/entity"
	"github.com/sanket-mindstix/liota/transport"
)

// DCC is one cloud provider bound to a comms channel.
type DCC interface {
	// Name identifies the provider in logs and metrics, e.g. "iotcc".
	Name() string

	// Register returns the registered handle for e. Metrics register locally
	// without network I/O and have no id until linked; edge systems and
	// devices either carry a cloud id or fail with errors.ErrRegistrationFailed.
	Register(ctx context.Context, e *entity.Entity) (*entity.Registered, error)

	// CreateRelationship links child under parent. Kind violations fail with
	// errors.ErrInvalidEntityKind.
	CreateRelationship(ctx context.Context, parent, child *entity.Registered) error

	// SetProperties sends a property update for target, or for its parent
	// when target is a metric.
	SetProperties(ctx context.Context, target *entity.Registered, props map[string]string) error

	// FormatBatch drains the metric's queue into one wire payload. It returns
	// nil and no error when there is nothing queued.
	FormatBatch(metric *entity.Registered) ([]byte, error)

	// Publish formats and sends one batch for metric. An empty queue is not
	// an error.
	Publish(ctx context.Context, metric *entity.Registered) error

	// SetMetricAttributes routes the metric's batches with attrs instead of
	// the comms defaults.
	SetMetricAttributes(metric *entity.Entity, attrs *transport.MessagingAttributes)

	// Close releases the provider's comms.
	Close(ctx context.Context) error
}
