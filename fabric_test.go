package fabric

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corticore/fabric/internal/manager"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	doc := `
memory:
  base_path: ` + base + `
  red_hot:
    path: ` + filepath.Join(base, "red_hot") + `
    index_type: Flat
    vector_dim: 4
    max_size: 100
  hot:
    path: ` + filepath.Join(base, "hot") + `
  warm:
    path: ` + filepath.Join(base, "warm") + `
  cold:
    path: ` + filepath.Join(base, "cold") + `
  glacier:
    path: ` + filepath.Join(base, "glacier") + `
    connectors: {}
data:
  storage: ` + filepath.Join(base, "data", "storage") + `
  cache: ` + filepath.Join(base, "data", "cache") + `
  models: ` + filepath.Join(base, "data", "models") + `
`
	path := filepath.Join(base, "fabric.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

// openTestFabric opens a fresh Fabric for one test case. Get's singleton
// means every Open call in the same test binary would otherwise return
// the same Manager (including one already closed by a prior test's
// Cleanup), so each test resets the guard first and again on exit.
func openTestFabric(t *testing.T, configPath string) *Fabric {
	t.Helper()
	manager.ResetForTest()
	f, err := Open(context.Background(), configPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = f.Cleanup()
		manager.ResetForTest()
	})
	return f
}

func TestOpenStoreRetrieveRoundTripAndPromoteMissingKeyFails(t *testing.T) {
	ctx := context.Background()
	f := openTestFabric(t, writeTestConfig(t))

	_, err := f.Store(ctx, TierHot, "session-1", map[string]any{"step": 1.0}, nil, []string{"demo"}, StoreOptions{})
	require.NoError(t, err)

	val, err := f.Retrieve(ctx, RetrieveRequest{FromTier: TierHot, Key: "session-1"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"step": 1.0}, val)

	promotedKey, err := f.Promote(ctx, PromoteRequest{
		SourceTier: TierHot,
		TargetTier: TierRedHot,
		HotKey:     "dummy",
	})
	require.Error(t, err)
	require.Empty(t, promotedKey)
}

func TestUpdateSchemaIndexCoversHotTier(t *testing.T) {
	ctx := context.Background()
	f := openTestFabric(t, writeTestConfig(t))

	_, err := f.Store(ctx, TierHot, "profile-1", map[string]any{"name": "ana", "age": 1.0}, nil, nil, StoreOptions{})
	require.NoError(t, err)

	require.NoError(t, f.UpdateSchemaIndex(ctx, TierHot))

	hits, err := f.Search(ctx, "name age type:dict source:hot", []Tier{TierHot}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestOpenReusesSingletonManagerAcrossCalls(t *testing.T) {
	ctx := context.Background()
	path := writeTestConfig(t)
	manager.ResetForTest()
	t.Cleanup(manager.ResetForTest)

	f1, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f1.Cleanup() })

	f2, err := Open(ctx, "/nonexistent/ignored.yaml")
	require.NoError(t, err)
	require.Same(t, f1.mgr, f2.mgr)
}
