package identity

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/natsclient"
	"github.com/sanket-mindstix/liota/testutil"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	store, err := NewFileStore(fs, "/etc/liota/identity.yaml")
	require.NoError(t, err)

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)

	require.NoError(t, store.Save(ctx, Identity{Name: "EdgeA", ID: "U1"}))
	require.NoError(t, store.Save(ctx, Identity{Name: "EdgeA", ID: "U2"}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Identity{Name: "EdgeA", ID: "U2"}, got)

	data, err := afero.ReadFile(fs, "/etc/liota/identity.yaml")
	require.NoError(t, err)
	assert.Equal(t, "name: EdgeA\nid: U2\n", string(data))
}

func TestFileStore_Corrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/id.yaml", []byte("name: [unclosed"), 0o600))

	store, err := NewFileStore(fs, "/id.yaml")
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewStores_Validation(t *testing.T) {
	_, err := NewFileStore(afero.NewMemMapFs(), "")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = NewKVStore(nil, "")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(afero.NewMemMapFs(), "/id.yaml")
	require.NoError(t, err)

	_, ok, err := Resume(ctx, store, "EdgeA")
	require.NoError(t, err)
	assert.False(t, ok, "nothing stored")

	require.NoError(t, store.Save(ctx, Identity{Name: "EdgeA", ID: "U1"}))

	id, ok, err := Resume(ctx, store, "EdgeA")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "U1", id.ID)

	_, ok, err = Resume(ctx, store, "EdgeB")
	require.NoError(t, err)
	assert.False(t, ok, "name mismatch")

	_, ok, err = Resume(ctx, nil, "EdgeA")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKVStore(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded NATS server")
	}
	ctx := context.Background()
	_, url := testutil.StartNATSServer(t)

	client, err := natsclient.NewClient(url)
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "liota_identity"})
	require.NoError(t, err)

	store, err := NewKVStore(client.NewKVStore(bucket), "")
	require.NoError(t, err)

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)

	require.NoError(t, store.Save(ctx, Identity{Name: "EdgeA", ID: "U1"}))

	id, ok, err := Resume(ctx, store, "EdgeA")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Identity{Name: "EdgeA", ID: "U1"}, id)
}
