package awsiot

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanket-mindstix/liota/dcc"
	"github.com/sanket-mindstix/liota/dcccomms"
	"github.com/sanket-mindstix/liota/entity"
	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/metric"
	"github.com/sanket-mindstix/liota/testutil"
	"github.com/sanket-mindstix/liota/transport"
)

const publishTopic = "liota/EdgeA/request"

func newAWS(t *testing.T, cfg Config) (*AWSIoT, *testutil.Broker) {
	t.Helper()
	broker := testutil.NewConnectedBroker(t)
	attrs, err := transport.NewMessagingAttributes("EdgeA")
	require.NoError(t, err)
	comms, err := dcccomms.NewTransportComms(broker, attrs, "test")
	require.NoError(t, err)

	aws, err := New(comms, cfg, dcc.WithMetricsRegistry(metric.NewMetricsRegistry()))
	require.NoError(t, err)
	return aws, broker
}

func register(t *testing.T, aws *AWSIoT, e *entity.Entity, err error) *entity.Registered {
	t.Helper()
	require.NoError(t, err)
	reg, err := aws.Register(context.Background(), e)
	require.NoError(t, err)
	return reg
}

func registerEdge(t *testing.T, aws *AWSIoT) *entity.Registered {
	t.Helper()
	e, err := entity.NewEdgeSystem("EdgeA")
	return register(t, aws, e, err)
}

func registerDevice(t *testing.T, aws *AWSIoT) *entity.Registered {
	t.Helper()
	e, err := entity.NewDevice("TestSensor", "SimulatedDevice")
	return register(t, aws, e, err)
}

func registerMetric(t *testing.T, aws *AWSIoT, name, unit string) *entity.Registered {
	t.Helper()
	e, err := entity.NewMetric(name, entity.MetricSpec{Unit: unit, Interval: 10 * time.Second, AggregationSize: 2})
	return register(t, aws, e, err)
}

func TestNew_RequiresComms(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestRegister(t *testing.T) {
	aws, broker := newAWS(t, DefaultConfig())

	edge := registerEdge(t, aws)
	assert.Equal(t, edge.Entity().ID(), edge.RegID())

	m := registerMetric(t, aws, "Temp", "")
	assert.Nil(t, m.Parent())
	assert.Empty(t, m.RegID())

	assert.Empty(t, broker.Topics(), "registration is local")

	_, err := aws.Register(context.Background(), nil)
	assert.ErrorIs(t, err, errors.ErrInvalidEntityKind)
}

func TestCreateRelationship(t *testing.T) {
	ctx := context.Background()
	aws, _ := newAWS(t, DefaultConfig())

	edge := registerEdge(t, aws)
	m := registerMetric(t, aws, "Temp", "")
	other := registerMetric(t, aws, "Other", "")

	require.NoError(t, aws.CreateRelationship(ctx, edge, m))
	assert.Same(t, edge, m.Parent())
	assert.Equal(t, edge.RegID(), m.RegID())

	assert.ErrorIs(t, aws.CreateRelationship(ctx, m, other), errors.ErrInvalidEntityKind)
	assert.ErrorIs(t, aws.CreateRelationship(ctx, edge, edge), errors.ErrInvalidEntityKind)
	assert.ErrorIs(t, aws.CreateRelationship(ctx, edge, nil), errors.ErrInvalidEntityKind)
}

func TestHierarchy(t *testing.T) {
	ctx := context.Background()
	aws, _ := newAWS(t, DefaultConfig())

	edge := registerEdge(t, aws)
	dev := registerDevice(t, aws)
	m := registerMetric(t, aws, "Temp", "")

	require.NoError(t, aws.CreateRelationship(ctx, edge, dev))
	require.NoError(t, aws.CreateRelationship(ctx, dev, m))

	names, err := entity.Hierarchy(m)
	require.NoError(t, err)
	assert.Equal(t, []string{"EdgeA", "TestSensor", "Temp"}, names)

	_, err = entity.Hierarchy(dev)
	assert.ErrorIs(t, err, errors.ErrInvalidEntityKind)
}

func TestFormatBatch(t *testing.T) {
	ctx := context.Background()
	ts := time.Now().UnixMilli()

	tests := []struct {
		name     string
		cfg      Config
		unit     string
		onDevice bool
		want     map[string]any
	}{
		{
			name: "enclosed metadata",
			cfg:  DefaultConfig(),
			want: map[string]any{
				"edge_system_name": "EdgeA",
				"metric_name":      "Test_Metric",
				"metric_data":      []any{map[string]any{"value": float64(10), "timestamp": float64(ts)}},
				"unit":             "null",
			},
		},
		{
			name: "without metadata",
			cfg:  Config{EncloseMetadata: false},
			want: map[string]any{
				"metric_name": "Test_Metric",
				"metric_data": []any{map[string]any{"value": float64(10), "timestamp": float64(ts)}},
				"unit":        "null",
			},
		},
		{
			name:     "device metric with unit",
			cfg:      DefaultConfig(),
			unit:     "degC",
			onDevice: true,
			want: map[string]any{
				"edge_system_name": "EdgeA",
				"device_name":      "TestSensor",
				"metric_name":      "Test_Metric",
				"metric_data":      []any{map[string]any{"value": float64(10), "timestamp": float64(ts)}},
				"unit":             "degC",
			},
		},
		{
			name: "prefixed unit",
			cfg:  Config{},
			unit: "mV",
			want: map[string]any{
				"metric_name": "Test_Metric",
				"metric_data": []any{map[string]any{"value": float64(10), "timestamp": float64(ts)}},
				"unit":        "millivolt",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aws, _ := newAWS(t, tt.cfg)
			edge := registerEdge(t, aws)
			m := registerMetric(t, aws, "Test_Metric", tt.unit)

			parent := edge
			if tt.onDevice {
				parent = registerDevice(t, aws)
				require.NoError(t, aws.CreateRelationship(ctx, edge, parent))
			}
			require.NoError(t, aws.CreateRelationship(ctx, parent, m))

			data, err := aws.FormatBatch(m)
			require.NoError(t, err)
			assert.Nil(t, data, "no data before sampling")

			require.NoError(t, m.Put(entity.Sample{Timestamp: ts, Value: 10}))
			data, err = aws.FormatBatch(m)
			require.NoError(t, err)

			var got map[string]any
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tt.want, got)

			data, err = aws.FormatBatch(m)
			require.NoError(t, err)
			assert.Nil(t, data, "queue is consumed")
		})
	}
}

func TestFormatBatch_Errors(t *testing.T) {
	aws, _ := newAWS(t, DefaultConfig())
	edge := registerEdge(t, aws)
	m := registerMetric(t, aws, "Temp", "")

	_, err := aws.FormatBatch(edge)
	assert.ErrorIs(t, err, errors.ErrInvalidEntityKind)

	_, err = aws.FormatBatch(m)
	assert.ErrorIs(t, err, errors.ErrInvalidEntityKind, "hierarchy needs a registered ancestor")
}

func TestSetProperties_NotSupported(t *testing.T) {
	aws, _ := newAWS(t, DefaultConfig())
	err := aws.SetProperties(context.Background(), nil, nil)
	assert.ErrorIs(t, err, errors.ErrNotSupported)
	assert.True(t, errors.IsInvalid(err))
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	aws, broker := newAWS(t, DefaultConfig())

	edge := registerEdge(t, aws)
	m := registerMetric(t, aws, "Temp", "")

	err := aws.Publish(ctx, m)
	assert.ErrorIs(t, err, errors.ErrNotLinked)

	require.NoError(t, aws.CreateRelationship(ctx, edge, m))
	require.NoError(t, aws.Publish(ctx, m), "empty queue is not an error")
	assert.Zero(t, broker.MessageCount(publishTopic))

	require.NoError(t, m.Put(entity.Sample{Timestamp: 1, Value: 2}))
	require.NoError(t, aws.Publish(ctx, m))
	assert.Equal(t, 1, broker.MessageCount(publishTopic))

	aws.SetMetricAttributes(m.Entity(), &transport.MessagingAttributes{PubTopic: "aws/things/EdgeA/Temp", PubQoS: transport.AtLeastOnce})
	require.NoError(t, m.Put(entity.Sample{Timestamp: 2, Value: 3}))
	require.NoError(t, aws.Publish(ctx, m))
	assert.Equal(t, 1, broker.MessageCount("aws/things/EdgeA/Temp"))

	broker.FailPublish(errors.ErrNoConnection)
	require.NoError(t, m.Put(entity.Sample{Timestamp: 3, Value: 4}))
	err = aws.Publish(ctx, m)
	assert.True(t, errors.IsTransient(err))
	assert.Zero(t, m.Pending(), "failed batches are not replayed")
}
