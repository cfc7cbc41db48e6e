package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/corticore/fabric/internal/ferrors"
)

// S3Connector stores glacier objects in an AWS S3 bucket.
type S3Connector struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Connector builds an S3-backed connector. region and bucket are
// required; prefix namespaces every key under the bucket.
func NewS3Connector(ctx context.Context, region, bucket, prefix string) (*S3Connector, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, ferrors.Wrap("connectors.NewS3Connector", ferrors.ErrBackend, err)
	}
	return &S3Connector{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (c *S3Connector) fullKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + "/" + key
}

// Store writes data as opaque bytes, auto-encoding mappings/slices as
// JSON per spec §4.6's object-store contract.
func (c *S3Connector) Store(ctx context.Context, key string, data any, metadata map[string]any) (string, error) {
	body, err := encodeObject(data)
	if err != nil {
		return "", err
	}
	meta := stringifyMetadata(metadata)
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(c.fullKey(key)),
		Body:     bytes.NewReader(body),
		Metadata: meta,
	})
	if err != nil {
		return "", ferrors.Wrap("connectors.S3Connector.Store", ferrors.ErrBackend, err)
	}
	return key, nil
}

// Retrieve tries JSON-decode, then UTF-8, then raw bytes, in that order.
func (c *S3Connector) Retrieve(ctx context.Context, key string) (any, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(c.fullKey(key))})
	if err != nil {
		return nil, ferrors.Wrap("connectors.S3Connector.Retrieve", ferrors.ErrNotFound, err)
	}
	defer out.Body.Close()
	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, ferrors.Wrap("connectors.S3Connector.Retrieve", ferrors.ErrBackend, err)
	}
	return decodeRetrieved(raw), nil
}

// ListObjects attaches provider-side metadata (size, mtime); the listing
// carries no content type, so ContentType is left empty.
func (c *S3Connector) ListObjects(ctx context.Context, prefix string) ([]ObjectMetadata, error) {
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.fullKey(prefix)),
	})
	var out []ObjectMetadata
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, ferrors.Wrap("connectors.S3Connector.ListObjects", ferrors.ErrBackend, err)
		}
		for _, obj := range page.Contents {
			md := ObjectMetadata{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				md.ModTime = *obj.LastModified
			}
			out = append(out, md)
		}
	}
	return out, nil
}

// Delete removes key, reporting whether it previously existed.
func (c *S3Connector) Delete(ctx context.Context, key string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(c.fullKey(key))})
	existed := err == nil
	if _, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(c.fullKey(key))}); err != nil {
		return false, ferrors.Wrap("connectors.S3Connector.Delete", ferrors.ErrBackend, err)
	}
	return existed, nil
}

// Cleanup is a no-op: the SDK client holds no unmanaged resources.
func (c *S3Connector) Cleanup() error { return nil }

func encodeObject(data any) ([]byte, error) {
	switch v := data.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, ferrors.Wrap("connectors.encodeObject", ferrors.ErrBackend, err)
		}
		return b, nil
	}
}

func stringifyMetadata(metadata map[string]any) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		if b, err := json.Marshal(v); err == nil {
			out[k] = string(b)
		}
	}
	return out
}
