// GCSConnector is grounded directly on
// original_source/memories/core/glacier/connectors/gcs_connector.py:
// config carries the bucket and an optional credentials path, the client
// is built at construction without touching the bucket, and
// store/retrieve/list/delete map onto the same object operations that
// file exposes.
package connectors

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/corticore/fabric/internal/ferrors"
)

// GCSConnector stores glacier objects in a Google Cloud Storage bucket.
type GCSConnector struct {
	client *storage.Client
	bucket string
}

// NewGCSConnector connects to bucket, optionally using the service
// account JSON at credentialsPath.
func NewGCSConnector(ctx context.Context, bucket, credentialsPath string) (*GCSConnector, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, ferrors.Wrap("connectors.NewGCSConnector", ferrors.ErrBackend, err)
	}
	return &GCSConnector{client: client, bucket: bucket}, nil
}

func (c *GCSConnector) Store(ctx context.Context, key string, data any, _ map[string]any) (string, error) {
	body, err := encodeObject(data)
	if err != nil {
		return "", err
	}
	w := c.client.Bucket(c.bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(body); err != nil {
		w.Close()
		return "", ferrors.Wrap("connectors.GCSConnector.Store", ferrors.ErrBackend, err)
	}
	if err := w.Close(); err != nil {
		return "", ferrors.Wrap("connectors.GCSConnector.Store", ferrors.ErrBackend, err)
	}
	return key, nil
}

func (c *GCSConnector) Retrieve(ctx context.Context, key string) (any, error) {
	r, err := c.client.Bucket(c.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, ferrors.Wrap("connectors.GCSConnector.Retrieve", ferrors.ErrNotFound, err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, ferrors.Wrap("connectors.GCSConnector.Retrieve", ferrors.ErrBackend, err)
	}
	return decodeRetrieved(raw), nil
}

func (c *GCSConnector) ListObjects(ctx context.Context, prefix string) ([]ObjectMetadata, error) {
	it := c.client.Bucket(c.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []ObjectMetadata
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, ferrors.Wrap("connectors.GCSConnector.ListObjects", ferrors.ErrBackend, err)
		}
		out = append(out, ObjectMetadata{
			Key:         attrs.Name,
			Size:        attrs.Size,
			ModTime:     attrs.Updated,
			ContentType: attrs.ContentType,
		})
	}
	return out, nil
}

func (c *GCSConnector) Delete(ctx context.Context, key string) (bool, error) {
	obj := c.client.Bucket(c.bucket).Object(key)
	if _, err := obj.Attrs(ctx); err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err := obj.Delete(ctx); err != nil {
		return false, ferrors.Wrap("connectors.GCSConnector.Delete", ferrors.ErrBackend, err)
	}
	return true, nil
}

func (c *GCSConnector) Cleanup() error {
	return c.client.Close()
}
