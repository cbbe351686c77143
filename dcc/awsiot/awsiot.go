// Package awsiot implements the fire-and-confirm DCC used with AWS IoT:
// registration is local, relationships only link handles, and each batch is
// published as one self-describing JSON document.
package awsiot

import (
	"context"
	"encoding/json"

	"github.com/sanket-mindstix/liota/dcc"
	"github.com/sanket-mindstix/liota/dcccomms"
	"github.com/sanket-mindstix/liota/entity"
	"github.com/sanket-mindstix/liota/errors"
)

// Name is the provider name used in logs and metrics.
const Name = "awsiot"

// Config configures an AWSIoT provider.
type Config struct {
	// EncloseMetadata adds the edge system and device names to each batch.
	EncloseMetadata bool `json:"enclose_metadata"`
}

// DefaultConfig encloses metadata.
func DefaultConfig() Config {
	return Config{EncloseMetadata: true}
}

// AWSIoT is the fire-and-confirm provider.
type AWSIoT struct {
	*dcc.Base
	cfg Config
}

var _ dcc.DCC = (*AWSIoT)(nil)

// New binds a provider to comms.
func New(comms dcccomms.Comms, cfg Config, opts ...dcc.Option) (*AWSIoT, error) {
	base, err := dcc.NewBase(Name, comms, opts...)
	if err != nil {
		return nil, err
	}
	return &AWSIoT{Base: base, cfg: cfg}, nil
}

// Register returns a handle without contacting the cloud. Edge systems and
// devices are identified by their local entity id.
func (a *AWSIoT) Register(_ context.Context, e *entity.Entity) (*entity.Registered, error) {
	if e == nil {
		return nil, errors.KindError(Name, "Register", "nil entity")
	}

	switch e.Kind() {
	case entity.KindMetric:
		return a.RegisterMetric(e)
	case entity.KindEdgeSystem, entity.KindDevice:
		reg, err := entity.NewRegistered(e, e.ID())
		if err != nil {
			return nil, err
		}
		a.Metrics.RecordRegistration(Name, e.Kind().String(), nil, 0)
		a.Logger.Info("resource registered", "entity", e.Name(), "reg_id", reg.RegID())
		return reg, nil
	default:
		return nil, errors.KindError(Name, "Register", "unknown kind %s", e.Kind())
	}
}

// CreateRelationship links child under parent locally.
func (a *AWSIoT) CreateRelationship(_ context.Context, parent, child *entity.Registered) error {
	if err := entity.Attach(parent, child); err != nil {
		return err
	}
	a.Logger.Debug("relationship created", "parent", parent.Name(), "child", child.Name())
	return nil
}

// SetProperties is not part of this protocol.
func (a *AWSIoT) SetProperties(context.Context, *entity.Registered, map[string]string) error {
	return errors.WrapInvalid(errors.ErrNotSupported, Name, "SetProperties", "set properties")
}

type batch struct {
	EdgeSystemName string          `json:"edge_system_name,omitempty"`
	DeviceName     string          `json:"device_name,omitempty"`
	MetricName     string          `json:"metric_name"`
	MetricData     []entity.Sample `json:"metric_data"`
	Unit           string          `json:"unit"`
}

// FormatBatch drains metric into one document. It returns nil when the queue
// is empty.
func (a *AWSIoT) FormatBatch(metric *entity.Registered) ([]byte, error) {
	if metric == nil || metric.Kind() != entity.KindMetric {
		return nil, errors.KindError(Name, "FormatBatch", "%v is not a registered metric", metric)
	}

	var edgeName, deviceName string
	if a.cfg.EncloseMetadata {
		if _, err := entity.Hierarchy(metric); err != nil {
			return nil, err
		}
		for p := metric.Parent(); p != nil; p = p.Parent() {
			switch p.Kind() {
			case entity.KindEdgeSystem:
				edgeName = p.Name()
			case entity.KindDevice:
				if deviceName == "" {
					deviceName = p.Name()
				}
			case entity.KindMetric:
			}
		}
	}

	samples := metric.Drain()
	if len(samples) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(batch{
		EdgeSystemName: edgeName,
		DeviceName:     deviceName,
		MetricName:     metric.Name(),
		MetricData:     samples,
		Unit:           dcc.UnitString(metric.Entity()),
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, Name, "FormatBatch", "encode batch")
	}
	return data, nil
}

// Publish formats and sends one batch for metric, on the metric's own topic
// when one is set.
func (a *AWSIoT) Publish(ctx context.Context, metric *entity.Registered) error {
	return a.PublishBatch(ctx, metric, a.FormatBatch)
}
