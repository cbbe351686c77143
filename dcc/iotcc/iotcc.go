// Package iotcc implements the polling-confirmation DCC: every edge system
// and device is created or found through a request the cloud answers
// asynchronously, relationships and properties are pushed as messages, and
// metric batches go out as add_stats documents.
package iotcc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sanket-mindstix/liota/dcc"
	"github.com/sanket-mindstix/liota/dcccomms"
	"github.com/sanket-mindstix/liota/entity"
	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/identity"
	"github.com/sanket-mindstix/liota/localstore"
	"github.com/sanket-mindstix/liota/pkg/retry"
	"github.com/sanket-mindstix/liota/pkg/timestamp"
)

// Name is the provider name used in logs and metrics.
const Name = "iotcc"

// Option configures an IoTCC.
type Option func(*IoTCC)

// WithCache mirrors registrations and property updates in store.
func WithCache(store *localstore.Store) Option {
	return func(i *IoTCC) {
		i.cache = store
	}
}

// WithIdentityStore persists the edge system identity after registration.
func WithIdentityStore(store identity.Store) Option {
	return func(i *IoTCC) {
		i.identity = store
	}
}

// WithBaseOptions passes options to the shared provider state.
func WithBaseOptions(opts ...dcc.Option) Option {
	return func(i *IoTCC) {
		i.baseOpts = append(i.baseOpts, opts...)
	}
}

// withClock overrides the millisecond clock used for property timestamps.
func withClock(now func() int64) Option {
	return func(i *IoTCC) {
		i.now = now
	}
}

// IoTCC is the polling-confirmation provider.
type IoTCC struct {
	*dcc.Base

	cfg      Config
	cache    *localstore.Store
	identity identity.Store
	tracker  *tracker
	now      func() int64
	baseOpts []dcc.Option
}

var _ dcc.DCC = (*IoTCC)(nil)

// New binds a provider to comms and starts listening for responses.
func New(ctx context.Context, comms dcccomms.Comms, cfg Config, opts ...Option) (*IoTCC, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	i := &IoTCC{
		cfg:     cfg,
		tracker: newTracker(),
		now:     timestamp.Now,
	}
	for _, opt := range opts {
		opt(i)
	}

	base, err := dcc.NewBase(Name, comms, i.baseOpts...)
	if err != nil {
		return nil, err
	}
	i.Base = base

	if err := comms.Receive(ctx, i.onMessage); err != nil {
		return nil, errors.WrapTransient(err, Name, "New", "start receiving")
	}
	return i, nil
}

func (i *IoTCC) onMessage(payload []byte) {
	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		i.Logger.Debug("ignoring undecodable message", "error", err, "bytes", len(payload))
		return
	}
	if !i.tracker.resolve(resp) {
		i.Logger.Debug("no request waiting for response",
			"type", resp.Type, "transaction_id", string(resp.TransactionID))
	}
}

func (i *IoTCC) send(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.WrapInvalid(err, Name, "send", "encode message")
	}
	return i.Comms.Send(ctx, data, nil)
}

// Login opens the session with the configured credentials. A rejection fails
// with a ConnectionError carrying reason code 5.
func (i *IoTCC) Login(ctx context.Context) error {
	txID := i.tracker.nextID()
	cell := i.tracker.await(txID, typeConnectionVerified, typeConnectionRejected)
	defer i.tracker.forget(txID)

	err := i.send(ctx, request{
		TransactionID: txID,
		Type:          typeConnectionRequest,
		Body:          loginBody{Username: i.cfg.Username, Password: i.cfg.Password},
	})
	if err != nil {
		return errors.NewConnectionError("iotcc login", 0, err)
	}

	resp, err := cell.WaitTimeout(ctx, i.cfg.LoginTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return errors.NewConnectionError("iotcc login", 0,
				fmt.Errorf("%w after %v", errors.ErrConnectionTimeout, i.cfg.LoginTimeout))
		}
		return errors.NewConnectionError("iotcc login", 0, err)
	}

	switch resp.Type {
	case typeConnectionVerified:
		i.Logger.Info("session verified", "username", i.cfg.Username)
		return nil
	default:
		reason := resp.Body.Reason
		if reason == "" {
			reason = "not authorized"
		}
		return errors.NewConnectionError("iotcc login", notAuthorizedReasonCode, errors.New(reason))
	}
}

// Register creates or finds e in the cloud. Metrics register locally.
func (i *IoTCC) Register(ctx context.Context, e *entity.Entity) (*entity.Registered, error) {
	if e == nil {
		return nil, errors.KindError(Name, "Register", "nil entity")
	}

	switch e.Kind() {
	case entity.KindMetric:
		return i.RegisterMetric(e)
	case entity.KindEdgeSystem, entity.KindDevice:
	default:
		return nil, errors.KindError(Name, "Register", "unknown kind %s", e.Kind())
	}

	start := time.Now()
	regID, err := i.createOrFind(ctx, e)
	i.Metrics.RecordRegistration(Name, e.Kind().String(), err, time.Since(start))
	if err != nil {
		i.Logger.Error("registration failed", "entity", e.Name(), "error", err)
		return nil, err
	}

	reg, err := entity.NewRegistered(e, regID)
	if err != nil {
		return nil, err
	}
	i.Logger.Info("resource registered", "entity", e.Name(), "reg_id", regID)

	switch e.Kind() {
	case entity.KindEdgeSystem:
		i.saveIdentity(ctx, e.Name(), regID)
		i.updateCache(regID, cacheRecord(reg, nil))
	case entity.KindDevice:
		i.updateCache(regID, cacheRecord(reg, nil))
	case entity.KindMetric:
	}
	return reg, nil
}

// createOrFind polls until the cloud returns a real id or the attempt bound
// is reached.
func (i *IoTCC) createOrFind(ctx context.Context, e *entity.Entity) (string, error) {
	kind, id := e.Type(), e.ID()
	if e.Kind() == entity.KindEdgeSystem {
		kind = edgeSystemKind
		if i.cfg.EdgeSystemID != "" {
			id = i.cfg.EdgeSystemID
		}
	}

	rc := i.cfg.Registration
	policy := retry.Fixed(rc.MaxAttempts, rc.Backoff)
	policy.OnRetry = func(attempt int, err error) {
		i.Logger.Debug("resource not ready, retrying",
			"entity", e.Name(), "attempt", attempt, "backoff", rc.Backoff, "reason", err)
	}

	regID, err := retry.DoWithResult(ctx, policy, func() (string, error) {
		i.Metrics.RecordRegistrationAttempt(Name)

		txID := i.tracker.nextID()
		cell := i.tracker.await(txID, typeResourceResponse)
		defer i.tracker.forget(txID)

		err := i.send(ctx, request{
			TransactionID: txID,
			Type:          typeResourceRequest,
			Body:          resourceBody{Kind: kind, ID: id, Name: e.Name()},
		})
		if err != nil {
			return "", retry.NonRetryable(errors.NewConnectionError("iotcc register", 0, err))
		}

		resp, err := cell.WaitTimeout(ctx, rc.ResponseTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return "", retry.NonRetryable(ctx.Err())
			}
			return "", fmt.Errorf("%w: no response after %v", errors.ErrConnectionTimeout, rc.ResponseTimeout)
		}
		if resp.Body.UUID == "" || resp.Body.UUID == notCreated {
			return "", errors.ErrRegistrationPending
		}
		return resp.Body.UUID, nil
	})
	if err == nil {
		return regID, nil
	}

	var nre *retry.NonRetryableError
	if errors.As(err, &nre) {
		err = nre.Err
	}
	return "", errors.WrapTransient(fmt.Errorf("%w: %s: %w", errors.ErrRegistrationFailed, e, err),
		Name, "Register", "create or find resource")
}

// CreateRelationship links child under parent. Device and edge system
// children are linked in the cloud too; a metric child instead publishes its
// unit metadata on the parent.
func (i *IoTCC) CreateRelationship(ctx context.Context, parent, child *entity.Registered) error {
	if err := entity.Attach(parent, child); err != nil {
		return err
	}

	switch child.Kind() {
	case entity.KindMetric:
		props, ok := dcc.UnitProperties(child.Entity())
		if !ok {
			return nil
		}
		return i.SetProperties(ctx, child, props)
	case entity.KindEdgeSystem, entity.KindDevice:
		err := i.send(ctx, request{
			TransactionID: i.tracker.nextID(),
			Type:          typeRelationshipRequest,
			Body:          relationshipBody{Parent: parent.RegID(), Child: child.RegID()},
		})
		if err != nil {
			return errors.WrapTransient(err, Name, "CreateRelationship", "send relationship request")
		}
		i.Logger.Info("relationship created", "parent", parent.Name(), "child", child.Name())
		return nil
	default:
		return errors.KindError(Name, "CreateRelationship", "unknown kind %s", child.Kind())
	}
}

// SetProperties sends a property update for target's owner and merges the
// properties into the local cache.
func (i *IoTCC) SetProperties(ctx context.Context, target *entity.Registered, props map[string]string) error {
	owner, err := entity.PropertyOwner(target)
	if err != nil {
		return err
	}

	kind := owner.Entity().Type()
	if owner.Kind() == entity.KindEdgeSystem {
		kind = edgeSystemKind
	}

	err = i.send(ctx, request{
		TransactionID: i.tracker.nextID(),
		Type:          typeAddProperties,
		UUID:          owner.RegID(),
		Body: propertiesBody{
			Kind:         kind,
			Timestamp:    i.now(),
			PropertyData: propertyData(props),
		},
	})
	if err != nil {
		return errors.WrapTransient(err, Name, "SetProperties", "send properties")
	}
	i.Logger.Info("properties defined", "entity", owner.Name(), "count", len(props))

	i.updateCache(owner.RegID(), cacheRecord(owner, props))
	return nil
}

// FormatBatch drains metric into an add_stats document addressed to the
// parent's id. It returns nil when the queue is empty.
func (i *IoTCC) FormatBatch(metric *entity.Registered) ([]byte, error) {
	if metric == nil || metric.Kind() != entity.KindMetric {
		return nil, errors.KindError(Name, "FormatBatch", "%v is not a registered metric", metric)
	}
	if metric.Parent() == nil {
		return nil, errors.WrapInvalid(errors.ErrNotLinked, Name, "FormatBatch", metric.Name())
	}

	samples := metric.Drain()
	if len(samples) == 0 {
		return nil, nil
	}

	stat := statData{
		StatKey:    metric.Name(),
		Timestamps: make([]int64, 0, len(samples)),
		Data:       make([]float64, 0, len(samples)),
	}
	for _, s := range samples {
		stat.Timestamps = append(stat.Timestamps, s.Timestamp)
		stat.Data = append(stat.Data, s.Value)
	}

	data, err := json.Marshal(statsMessage{
		Type:       typeAddStats,
		UUID:       metric.RegID(),
		MetricData: []statData{stat},
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, Name, "FormatBatch", "encode batch")
	}
	return data, nil
}

// Publish formats and sends one batch for metric.
func (i *IoTCC) Publish(ctx context.Context, metric *entity.Registered) error {
	return i.PublishBatch(ctx, metric, i.FormatBatch)
}

func (i *IoTCC) saveIdentity(ctx context.Context, name, regID string) {
	if i.identity == nil {
		return
	}
	if err := i.identity.Save(ctx, identity.Identity{Name: name, ID: regID}); err != nil {
		i.Logger.Error("identity not persisted", "entity", name, "reg_id", regID, "error", err)
	}
}

func (i *IoTCC) updateCache(regID string, rec localstore.Record) {
	if i.cache == nil {
		return
	}
	i.cache.Update(regID, rec)
}

func cacheRecord(owner *entity.Registered, props map[string]string) localstore.Record {
	switch owner.Kind() {
	case entity.KindEdgeSystem:
		return localstore.Record{EntityType: localstore.EntityEdgeSystem, Name: owner.Name(), Properties: props}
	default:
		return localstore.Record{
			EntityType: localstore.EntityDevice,
			Name:       owner.Name(),
			DeviceType: owner.Entity().Type(),
			Properties: props,
		}
	}
}
