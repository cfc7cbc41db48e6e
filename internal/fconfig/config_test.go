package fconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDoc = `
memory:
  base_path: /tmp/fabric
  red_hot:
    path: /tmp/fabric/red_hot
    index_type: Flat
    vector_dim: 128
    max_size: 1000
  hot:
    path: /tmp/fabric/hot
  warm:
    path: /tmp/fabric/warm
    duckdb:
      memory_limit: 512MB
      threads: 2
  cold:
    path: /tmp/fabric/cold
    max_size: 1000000
  glacier:
    path: /tmp/fabric/glacier
    connectors:
      obj:
        type: s3
    default_connector: obj
data:
  storage: /tmp/fabric/data/storage
  cache: /tmp/fabric/data/cache
  models: /tmp/fabric/data/models
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validDoc))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/fabric", cfg.Memory.BasePath)
	assert.Equal(t, IndexFlat, cfg.Memory.RedHot.IndexType)
	assert.Equal(t, 128, cfg.Memory.RedHot.VectorDim)
	assert.Equal(t, "obj", cfg.Memory.Glacier.DefaultConnector)
}

func TestParseUnknownTopLevelKeyIgnored(t *testing.T) {
	doc := validDoc + "\nunknown_top_level: true\n"
	_, err := Parse([]byte(doc))
	require.NoError(t, err)
}

func TestParseUnknownTierKeyRejected(t *testing.T) {
	doc := `
memory:
  base_path: /tmp/fabric
  red_hot:
    path: /tmp/fabric/red_hot
    index_type: Flat
    vector_dim: 128
    max_size: 1000
    bogus_key: nope
  hot: {}
  warm: {}
  cold: {}
  glacier: {}
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
}

func TestValidateRejectsBadIndexType(t *testing.T) {
	cfg := &Config{Memory: MemoryConfig{BasePath: "/tmp/fabric", RedHot: RedHotConfig{IndexType: "bogus"}}}
	require.Error(t, cfg.Validate())
}

func TestColdPathPrecedence(t *testing.T) {
	cfg := &Config{Memory: MemoryConfig{BasePath: "/tmp/fabric"}}
	assert.Equal(t, "/tmp/fabric/cold", cfg.ColdPath())

	cfg.Memory.Cold.Path = "/explicit/cold"
	assert.Equal(t, "/explicit/cold", cfg.ColdPath())

	t.Setenv("MEMFABRIC_COLD_PATH", "/env/cold")
	assert.Equal(t, "/env/cold", cfg.ColdPath())
}
