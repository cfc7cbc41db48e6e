package connectors

import (
	"context"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/corticore/fabric/internal/ferrors"
)

// AzureConnector stores glacier objects as blobs in an Azure Storage
// container.
type AzureConnector struct {
	client    *azblob.Client
	container string
}

// NewAzureConnector builds an Azure Blob-backed connector from a storage
// account connection string.
func NewAzureConnector(connectionString, containerName string) (*AzureConnector, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, ferrors.Wrap("connectors.NewAzureConnector", ferrors.ErrBackend, err)
	}
	return &AzureConnector{client: client, container: containerName}, nil
}

func (c *AzureConnector) Store(ctx context.Context, key string, data any, _ map[string]any) (string, error) {
	body, err := encodeObject(data)
	if err != nil {
		return "", err
	}
	_, err = c.client.UploadBuffer(ctx, c.container, key, body, nil)
	if err != nil {
		return "", ferrors.Wrap("connectors.AzureConnector.Store", ferrors.ErrBackend, err)
	}
	return key, nil
}

func (c *AzureConnector) Retrieve(ctx context.Context, key string) (any, error) {
	resp, err := c.client.DownloadStream(ctx, c.container, key, nil)
	if err != nil {
		return nil, ferrors.Wrap("connectors.AzureConnector.Retrieve", ferrors.ErrNotFound, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ferrors.Wrap("connectors.AzureConnector.Retrieve", ferrors.ErrBackend, err)
	}
	return decodeRetrieved(raw), nil
}

func (c *AzureConnector) ListObjects(ctx context.Context, prefix string) ([]ObjectMetadata, error) {
	var out []ObjectMetadata
	pager := c.client.NewListBlobsFlatPager(c.container, &container.ListBlobsFlatOptions{Prefix: to.Ptr(prefix)})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, ferrors.Wrap("connectors.AzureConnector.ListObjects", ferrors.ErrBackend, err)
		}
		for _, item := range page.Segment.BlobItems {
			md := ObjectMetadata{Key: *item.Name}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					md.Size = *item.Properties.ContentLength
				}
				if item.Properties.LastModified != nil {
					md.ModTime = *item.Properties.LastModified
				}
				if item.Properties.ContentType != nil {
					md.ContentType = *item.Properties.ContentType
				}
			}
			out = append(out, md)
		}
	}
	return out, nil
}

func (c *AzureConnector) Delete(ctx context.Context, key string) (bool, error) {
	_, err := c.client.DeleteBlob(ctx, c.container, key, nil)
	if err != nil {
		return false, ferrors.Wrap("connectors.AzureConnector.Delete", ferrors.ErrBackend, err)
	}
	return true, nil
}

func (c *AzureConnector) Cleanup() error { return nil }
