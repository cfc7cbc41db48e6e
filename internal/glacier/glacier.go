// Package glacier implements the facade over named object-store and
// data-source connectors (spec §4.6): a map from connector name to
// instance plus a default-connector pointer, delegating without
// interpreting payloads.
package glacier

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/corticore/fabric/internal/ferrors"
	"github.com/corticore/fabric/internal/glacier/connectors"
)

const defaultCallTimeout = 30 * time.Second

// Facade dispatches glacier operations across named connectors.
type Facade struct {
	objectConnectors map[string]connectors.ObjectConnector
	dataSources      map[string]connectors.DataSourceConnector
	defaultConnector string
	callTimeout      time.Duration
}

// Option configures New.
type Option func(*Facade)

// WithCallTimeout overrides the per-call deadline every object-connector
// operation is bounded by (spec §5: "Glacier operations honour a
// configurable per-call deadline").
func WithCallTimeout(d time.Duration) Option {
	return func(f *Facade) {
		if d > 0 {
			f.callTimeout = d
		}
	}
}

// New creates an empty facade. defaultConnector may be empty.
func New(defaultConnector string, opts ...Option) *Facade {
	f := &Facade{
		objectConnectors: make(map[string]connectors.ObjectConnector),
		dataSources:      make(map[string]connectors.DataSourceConnector),
		defaultConnector: defaultConnector,
		callTimeout:      defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// callWithRetry bounds fn by the facade's call timeout and retries
// transient failures with exponential backoff; ErrNotFound and
// ErrConnectorUnknown are treated as permanent (spec §5's "timeout
// without leaving the tier inconsistent" applies only to transient
// backend errors, not lookups that will never succeed).
func (f *Facade) callWithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err := backoff.Retry(func() error {
		if err := fn(ctx); err != nil {
			if errors.Is(err, ferrors.ErrNotFound) || errors.Is(err, ferrors.ErrConnectorUnknown) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, bo)

	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return ferrors.Wrap(op, ferrors.ErrTimeout, err)
	}
	return err
}

// RegisterObjectConnector adds/replaces an object-store connector under name.
func (f *Facade) RegisterObjectConnector(name string, c connectors.ObjectConnector) {
	f.objectConnectors[name] = c
}

// RegisterDataSource adds/replaces a read-only data-source connector under name.
func (f *Facade) RegisterDataSource(name string, c connectors.DataSourceConnector) {
	f.dataSources[name] = c
}

func (f *Facade) resolveObject(name string) (connectors.ObjectConnector, string, error) {
	if name == "" {
		name = f.defaultConnector
	}
	c, ok := f.objectConnectors[name]
	if !ok {
		return nil, name, ferrors.Wrap("glacier.resolveObject", ferrors.ErrConnectorUnknown, connectorNotFound(name))
	}
	return c, name, nil
}

type connectorNotFoundErr struct{ name string }

func (e *connectorNotFoundErr) Error() string { return "connector " + e.name + " is not registered" }

func connectorNotFound(name string) error { return &connectorNotFoundErr{name: name} }

// Store writes data through the named (or default) object connector. An
// empty connector set is an error for write paths, per spec §4.6's
// facade policy.
func (f *Facade) Store(ctx context.Context, connector, key string, data any, metadata map[string]any) (string, error) {
	c, _, err := f.resolveObject(connector)
	if err != nil {
		return "", err
	}
	var objectID string
	err = f.callWithRetry(ctx, "glacier.Store", func(ctx context.Context) error {
		var innerErr error
		objectID, innerErr = c.Store(ctx, key, data, metadata)
		return innerErr
	})
	return objectID, err
}

// Retrieve reads a key through the named (or default) object connector.
func (f *Facade) Retrieve(ctx context.Context, connector, key string) (any, error) {
	c, _, err := f.resolveObject(connector)
	if err != nil {
		return nil, err
	}
	var value any
	err = f.callWithRetry(ctx, "glacier.Retrieve", func(ctx context.Context) error {
		var innerErr error
		value, innerErr = c.Retrieve(ctx, key)
		return innerErr
	})
	return value, err
}

// ListObjects lists objects under prefix. An empty connector set returns
// an empty list rather than an error, since this is a read path.
func (f *Facade) ListObjects(ctx context.Context, connector, prefix string) ([]connectors.ObjectMetadata, error) {
	if connector == "" {
		connector = f.defaultConnector
	}
	c, ok := f.objectConnectors[connector]
	if !ok {
		return nil, nil
	}
	return c.ListObjects(ctx, prefix)
}

// Delete removes key through the named (or default) object connector.
func (f *Facade) Delete(ctx context.Context, connector, key string) (bool, error) {
	c, _, err := f.resolveObject(connector)
	if err != nil {
		return false, err
	}
	var deleted bool
	err = f.callWithRetry(ctx, "glacier.Delete", func(ctx context.Context) error {
		var innerErr error
		deleted, innerErr = c.Delete(ctx, key)
		return innerErr
	})
	return deleted, err
}

// Cleanup releases every registered object connector's resources.
func (f *Facade) Cleanup() error {
	var firstErr error
	for _, c := range f.objectConnectors {
		if err := c.Cleanup(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetSchema delegates to a registered data-source connector by source name.
func (f *Facade) GetSchema(ctx context.Context, source string, spatialInput any, spatialInputType string) (map[string]any, error) {
	ds, ok := f.dataSources[source]
	if !ok {
		return nil, ferrors.Wrap("glacier.GetSchema", ferrors.ErrConnectorUnknown, connectorNotFound(source))
	}
	return ds.GetSchema(ctx, source, spatialInput, spatialInputType)
}

// Fetch delegates to a registered data-source connector's domain-specific
// fetch operation; stub sources reject with ferrors.ErrNotImplemented.
func (f *Facade) Fetch(ctx context.Context, source string, spatialInput any, spatialInputType string, temporalInput any) (any, error) {
	ds, ok := f.dataSources[source]
	if !ok {
		return nil, ferrors.Wrap("glacier.Fetch", ferrors.ErrConnectorUnknown, connectorNotFound(source))
	}
	return ds.Fetch(ctx, source, spatialInput, spatialInputType, temporalInput)
}

// DataSourceNames lists every registered read-only data source, sorted.
func (f *Facade) DataSourceNames() []string {
	names := make([]string, 0, len(f.dataSources))
	for name := range f.dataSources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
