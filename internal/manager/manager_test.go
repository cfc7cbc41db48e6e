package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corticore/fabric/internal/fconfig"
)

func testConfig(t *testing.T) *fconfig.Config {
	t.Helper()
	base := t.TempDir()
	return &fconfig.Config{
		Memory: fconfig.MemoryConfig{
			BasePath: base,
			RedHot:   fconfig.RedHotConfig{Path: filepath.Join(base, "red_hot"), IndexType: fconfig.IndexFlat, VectorDim: 8, MaxSize: 100},
			Hot:      fconfig.HotConfig{Path: filepath.Join(base, "hot")},
			Warm:     fconfig.WarmConfig{Path: filepath.Join(base, "warm")},
			Cold:     fconfig.ColdConfig{Path: filepath.Join(base, "cold")},
			Glacier:  fconfig.GlacierConfig{Path: filepath.Join(base, "glacier")},
		},
		Data: fconfig.DataConfig{
			Storage: filepath.Join(base, "data", "storage"),
			Cache:   filepath.Join(base, "data", "cache"),
			Models:  filepath.Join(base, "data", "models"),
		},
	}
}

func TestNewManagerFromConfigWiresAllTiers(t *testing.T) {
	ctx := context.Background()
	m, err := newManagerFromConfig(ctx, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Cleanup() })

	assert.NotNil(t, m.Catalog)
	assert.NotNil(t, m.RedHot)
	assert.NotNil(t, m.Hot)
	assert.NotNil(t, m.Warm)
	assert.NotNil(t, m.Cold)
	assert.NotNil(t, m.Glacier)
}

func TestGetDataSourcePathCreatesDirectory(t *testing.T) {
	ctx := context.Background()
	m, err := newManagerFromConfig(ctx, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Cleanup() })

	path, err := m.GetDataSourcePath("landsat")
	require.NoError(t, err)
	assert.DirExists(t, path)
}

func TestGetConnectorRejectsUnknownKind(t *testing.T) {
	ctx := context.Background()
	m, err := newManagerFromConfig(ctx, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Cleanup() })

	_, err = m.GetConnector("does-not-exist", nil)
	require.Error(t, err)
}

func TestGetReturnsSameInstanceOnRepeatedCalls(t *testing.T) {
	resetForTest()
	t.Cleanup(resetForTest)

	base := t.TempDir()
	cfg := testConfig(t)
	cfgPath := filepath.Join(base, "fabric.yaml")
	writeYAMLConfig(t, cfgPath, cfg)

	m1, err1 := Get(context.Background(), cfgPath)
	m2, err2 := Get(context.Background(), cfgPath)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Same(t, m1, m2)
}

func writeYAMLConfig(t *testing.T, path string, cfg *fconfig.Config) {
	t.Helper()
	doc := `
memory:
  base_path: ` + cfg.Memory.BasePath + `
  red_hot:
    path: ` + cfg.Memory.RedHot.Path + `
    index_type: Flat
    vector_dim: 8
    max_size: 100
  hot:
    path: ` + cfg.Memory.Hot.Path + `
  warm:
    path: ` + cfg.Memory.Warm.Path + `
  cold:
    path: ` + cfg.Memory.Cold.Path + `
  glacier:
    path: ` + cfg.Memory.Glacier.Path + `
data:
  storage: ` + cfg.Data.Storage + `
  cache: ` + cfg.Data.Cache + `
  models: ` + cfg.Data.Models + `
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
}
