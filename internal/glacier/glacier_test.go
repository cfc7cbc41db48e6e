package glacier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corticore/fabric/internal/ferrors"
	"github.com/corticore/fabric/internal/glacier/connectors"
)

type fakeObjectConnector struct {
	objects map[string]any
	closed  bool
}

func newFakeObjectConnector() *fakeObjectConnector {
	return &fakeObjectConnector{objects: make(map[string]any)}
}

func (f *fakeObjectConnector) Store(_ context.Context, key string, data any, _ map[string]any) (string, error) {
	f.objects[key] = data
	return key, nil
}

func (f *fakeObjectConnector) Retrieve(_ context.Context, key string) (any, error) {
	v, ok := f.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return v, nil
}

func (f *fakeObjectConnector) ListObjects(_ context.Context, _ string) ([]connectors.ObjectMetadata, error) {
	out := make([]connectors.ObjectMetadata, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, connectors.ObjectMetadata{Key: k})
	}
	return out, nil
}

func (f *fakeObjectConnector) Delete(_ context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	delete(f.objects, key)
	return ok, nil
}

func (f *fakeObjectConnector) Cleanup() error {
	f.closed = true
	return nil
}

func TestStoreUsesDefaultConnectorWhenNoneSpecified(t *testing.T) {
	ctx := context.Background()
	f := New("primary")
	fake := newFakeObjectConnector()
	f.RegisterObjectConnector("primary", fake)

	_, err := f.Store(ctx, "", "k", "v", nil)
	require.NoError(t, err)
	assert.Equal(t, "v", fake.objects["k"])
}

func TestStoreWithEmptyConnectorSetIsError(t *testing.T) {
	ctx := context.Background()
	f := New("")
	_, err := f.Store(ctx, "", "k", "v", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferrors.ErrConnectorUnknown))
}

func TestListObjectsWithEmptyConnectorSetReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	f := New("")
	out, err := f.ListObjects(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCleanupClosesEveryConnector(t *testing.T) {
	f := New("a")
	fake1 := newFakeObjectConnector()
	fake2 := newFakeObjectConnector()
	f.RegisterObjectConnector("a", fake1)
	f.RegisterObjectConnector("b", fake2)

	require.NoError(t, f.Cleanup())
	assert.True(t, fake1.closed)
	assert.True(t, fake2.closed)
}

func TestGetSchemaDelegatesToStubDataSource(t *testing.T) {
	ctx := context.Background()
	f := New("")
	f.RegisterDataSource("landsat", connectors.NewLandsatSource())

	schema, err := f.GetSchema(ctx, "landsat", nil, "bbox")
	require.NoError(t, err)
	assert.Equal(t, "landsat", schema["source"])
}

func TestFetchOnStubDataSourceIsNotImplemented(t *testing.T) {
	ctx := context.Background()
	f := New("")
	f.RegisterDataSource("sentinel", connectors.NewSentinelSource())

	_, err := f.Fetch(ctx, "sentinel", nil, "bbox", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferrors.ErrNotImplemented))
}

func TestUnknownSourceIsConnectorUnknown(t *testing.T) {
	ctx := context.Background()
	f := New("")
	_, err := f.GetSchema(ctx, "nope", nil, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferrors.ErrConnectorUnknown))
}
