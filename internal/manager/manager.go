// Package manager implements the fabric's process-wide singleton (spec
// §4.7): it loads configuration, owns the shared analytical connection
// and red-hot vector index, constructs hot/glacier backends, and exposes
// data-source-path/cache-path helpers. The connector registry generalizes
// the teacher's internal/storage/factory (BackendFactory/RegisterBackend)
// from "one storage backend kind" to "one named glacier connector kind."
package manager

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/corticore/fabric/internal/catalog"
	"github.com/corticore/fabric/internal/coldmem"
	"github.com/corticore/fabric/internal/fconfig"
	"github.com/corticore/fabric/internal/ferrors"
	"github.com/corticore/fabric/internal/glacier"
	"github.com/corticore/fabric/internal/glacier/connectors"
	"github.com/corticore/fabric/internal/hotmem"
	"github.com/corticore/fabric/internal/redhot"
	"github.com/corticore/fabric/internal/vectorindex"
	"github.com/corticore/fabric/internal/warmmem"
)

// ConnectorFactory builds a named glacier connector (object store or data
// source) from its
// configured options. Populated via RegisterConnector, mirroring the
// teacher's BackendFactory/RegisterBackend shape one-for-one.
type ConnectorFactory func(opts map[string]string) (any, error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]ConnectorFactory)
)

// RegisterConnector adds a named connector factory to the process-wide
// registry. The built-in kinds are registered from this package's init().
func RegisterConnector(kind string, factory ConnectorFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

func lookupConnector(kind string) (ConnectorFactory, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	f, ok := registry[kind]
	return f, ok
}

// init registers the fabric's built-in connector kinds. Object-store
// connectors need a context for eager construction, so they read a
// "timeout_seconds" option (default 10s) rather than taking ctx as a
// factory argument, matching the registry's synchronous opts-only shape.
func init() {
	RegisterConnector("s3", func(opts map[string]string) (any, error) {
		ctx, cancel := connectorContext(opts)
		defer cancel()
		return connectors.NewS3Connector(ctx, opts["region"], opts["bucket"], opts["prefix"])
	})
	RegisterConnector("azure", func(opts map[string]string) (any, error) {
		return connectors.NewAzureConnector(opts["connection_string"], opts["container"])
	})
	RegisterConnector("gcs", func(opts map[string]string) (any, error) {
		ctx, cancel := connectorContext(opts)
		defer cancel()
		return connectors.NewGCSConnector(ctx, opts["bucket"], opts["credentials_path"])
	})
	RegisterConnector("sentinel", func(map[string]string) (any, error) { return connectors.NewSentinelSource(), nil })
	RegisterConnector("landsat", func(map[string]string) (any, error) { return connectors.NewLandsatSource(), nil })
	RegisterConnector("planetary", func(map[string]string) (any, error) { return connectors.NewPlanetarySource(), nil })
	RegisterConnector("osm", func(map[string]string) (any, error) { return connectors.NewOSMSource(), nil })
	RegisterConnector("overture", func(map[string]string) (any, error) { return connectors.NewOvertureSource(), nil })
}

func connectorContext(opts map[string]string) (context.Context, context.CancelFunc) {
	timeout := 10 * time.Second
	if secs, err := strconv.Atoi(opts["timeout_seconds"]); err == nil && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// buildGlacierFacade constructs every configured glacier connector via the
// kind registry and files it into the facade as an object connector or a
// data source depending on which interface it satisfies.
func buildGlacierFacade(cfg *fconfig.Config) (*glacier.Facade, error) {
	var glacierOpts []glacier.Option
	if cfg.Memory.Glacier.CallTimeoutSec > 0 {
		glacierOpts = append(glacierOpts, glacier.WithCallTimeout(time.Duration(cfg.Memory.Glacier.CallTimeoutSec)*time.Second))
	}
	gl := glacier.New(cfg.Memory.Glacier.DefaultConnector, glacierOpts...)
	for name, connCfg := range cfg.Memory.Glacier.Connectors {
		factory, ok := lookupConnector(connCfg.Type)
		if !ok {
			return nil, ferrors.Wrap("manager.buildGlacierFacade", ferrors.ErrConnectorUnknown,
				fmt.Errorf("connector %q has unknown type %q", name, connCfg.Type))
		}
		built, err := factory(connCfg.Options)
		if err != nil {
			return nil, ferrors.Wrap("manager.buildGlacierFacade", ferrors.ErrBackend, err)
		}
		switch c := built.(type) {
		case connectors.ObjectConnector:
			gl.RegisterObjectConnector(name, c)
		case connectors.DataSourceConnector:
			gl.RegisterDataSource(name, c)
		default:
			return nil, ferrors.Wrap("manager.buildGlacierFacade", ferrors.ErrConnectorUnknown,
				fmt.Errorf("connector %q of type %q implements neither connector interface", name, connCfg.Type))
		}
	}
	return gl, nil
}

// Manager is the process-wide fabric singleton.
type Manager struct {
	cfg *fconfig.Config

	analyticalDB *sql.DB
	redHotIndex  *vectorindex.Index

	Catalog *catalog.Catalog
	RedHot  *redhot.Store
	Hot     *hotmem.Store
	Warm    *warmmem.Store
	Cold    *coldmem.Store
	Glacier *glacier.Facade
}

var (
	once     sync.Once
	instance *Manager
	initErr  error
)

// Get returns the process-wide Manager, constructing it on first call
// from the config at path. Subsequent calls ignore path and return the
// same instance — concurrent first calls never double-initialise.
func Get(ctx context.Context, path string) (*Manager, error) {
	once.Do(func() {
		instance, initErr = newManager(ctx, path)
	})
	return instance, initErr
}

// resetForTest clears the singleton guard; called from this package's
// tests and from ResetForTest.
func resetForTest() {
	once = sync.Once{}
	instance = nil
	initErr = nil
}

// ResetForTest clears the singleton guard so the next Get call
// constructs a fresh Manager. It exists solely so package fabric's own
// tests can isolate Get's process-wide singleton per test case (every
// call to Get within the same test binary otherwise returns the same
// instance, including one already closed by a prior test's Cleanup) —
// production code must never call it.
func ResetForTest() {
	resetForTest()
}

func newManager(ctx context.Context, configPath string) (*Manager, error) {
	cfg, err := fconfig.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newManagerFromConfig(ctx, cfg)
}

func newManagerFromConfig(ctx context.Context, cfg *fconfig.Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, dir := range []string{
		cfg.Memory.BasePath,
		cfg.Memory.RedHot.Path,
		cfg.Memory.Hot.Path,
		cfg.Memory.Warm.Path,
		cfg.ColdPath(),
		cfg.Memory.Glacier.Path,
	} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, ferrors.Wrap("manager.newManagerFromConfig", ferrors.ErrBackend, err)
		}
	}

	analyticalPath := filepath.Join(cfg.Memory.BasePath, "analytical.db")
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)", analyticalPath))
	if err != nil {
		return nil, ferrors.Wrap("manager.newManagerFromConfig", ferrors.ErrBackend, err)
	}

	cat, err := catalog.New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	dim := cfg.Memory.RedHot.VectorDim
	if dim <= 0 {
		dim = 128
	}
	idx := vectorindex.Load(dim, cfg.Memory.RedHot.Path, 100)
	rh := redhot.New(idx, cat, cfg.Memory.RedHot.MaxSize)

	hot := hotmem.New(cfg.Memory.Hot.ExternalCacheURL, hotmem.WithNamespace("fabric"))

	warm := warmmem.New(cfg.Memory.Warm.Path, db)

	cold, err := coldmem.New(ctx, db, cat)
	if err != nil {
		db.Close()
		return nil, err
	}

	gl, err := buildGlacierFacade(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	m := &Manager{
		cfg:          cfg,
		analyticalDB: db,
		redHotIndex:  idx,
		Catalog:      cat,
		RedHot:       rh,
		Hot:          hot,
		Warm:         warm,
		Cold:         cold,
		Glacier:      gl,
	}
	return m, nil
}

// GetDataSourcePath returns (creating if missing) the absolute directory
// for a glacier data-source kind.
func (m *Manager) GetDataSourcePath(kind string) (string, error) {
	dir := filepath.Join(m.cfg.Data.Storage, kind)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", ferrors.Wrap("manager.GetDataSourcePath", ferrors.ErrBackend, err)
	}
	return filepath.Abs(dir)
}

// GetCachePath returns (creating if missing) the absolute cache directory
// for kind.
func (m *Manager) GetCachePath(kind string) (string, error) {
	dir := filepath.Join(m.cfg.Data.Cache, kind)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", ferrors.Wrap("manager.GetCachePath", ferrors.ErrBackend, err)
	}
	return filepath.Abs(dir)
}

// GetConnector builds a new connector of the given kind via the
// registered factory on every call; nothing is cached. Unknown kinds are
// errors.
func (m *Manager) GetConnector(kind string, opts map[string]string) (any, error) {
	factory, ok := lookupConnector(kind)
	if !ok {
		return nil, ferrors.Wrap("manager.GetConnector", ferrors.ErrConnectorUnknown, fmt.Errorf("connector kind %q", kind))
	}
	return factory(opts)
}

// Cleanup releases every owned resource in this order: vector index
// flush, warm pools (except the shared default), glacier connectors, hot
// backend, analytical DB. The first error is returned.
func (m *Manager) Cleanup() error {
	var firstErr func(error)
	var err error
	firstErr = func(e error) {
		if e != nil && err == nil {
			err = e
		}
	}

	firstErr(m.redHotIndex.Flush())
	firstErr(m.Warm.Close(true)) // skip the shared default pool, closed below
	firstErr(m.Glacier.Cleanup())
	firstErr(m.Hot.Close())
	firstErr(m.analyticalDB.Close())
	return err
}
