package destination

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/lifeboat-sh/lifeboat/internal/config"
)

// Azure uploads artifacts to an Azure Blob Storage container. Location
// handles have the form "azure://container/key".
//
// Options: container (required), prefix, timeout. The connection string is
// read from the "connection_string" option or, preferably, from the
// AZURE_STORAGE_CONNECTION_STRING environment variable so secrets stay out
// of the config file.
type Azure struct {
	name      string
	client    *azblob.Client
	container string
	prefix    string
	timeout   time.Duration
}

func newAzure(dest config.Destination) (*Azure, error) {
	container := dest.Options["container"]
	if container == "" {
		return nil, fmt.Errorf("destination %q: azure requires a \"container\" option", dest.Name)
	}

	conn := dest.Options["connection_string"]
	if conn == "" {
		conn = os.Getenv("AZURE_STORAGE_CONNECTION_STRING")
	}
	if conn == "" {
		return nil, fmt.Errorf("destination %q: azure requires a connection string "+
			"(option \"connection_string\" or AZURE_STORAGE_CONNECTION_STRING)", dest.Name)
	}

	client, err := azblob.NewClientFromConnectionString(conn, nil)
	if err != nil {
		return nil, fmt.Errorf("destination %q: creating Azure client: %w", dest.Name, err)
	}

	return &Azure{
		name:      dest.Name,
		client:    client,
		container: container,
		prefix:    dest.Options["prefix"],
		timeout:   opTimeout(dest.Options),
	}, nil
}

func (a *Azure) Name() string { return a.name }
func (a *Azure) Kind() string { return KindAzure }

func (a *Azure) Upload(ctx context.Context, jobID string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	key := artifactKey(a.prefix, jobID)
	if _, err := a.client.UploadBuffer(ctx, a.container, key, data, nil); err != nil {
		return "", fmt.Errorf("azure: uploading %s: %w", key, err)
	}
	return fmt.Sprintf("azure://%s/%s", a.container, key), nil
}

func (a *Azure) Fetch(ctx context.Context, location string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	container, key, err := splitLocation(location, "azure")
	if err != nil {
		return nil, err
	}

	resp, err := a.client.DownloadStream(ctx, container, key, nil)
	if err != nil {
		return nil, fmt.Errorf("azure: fetching %s: %w", location, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("azure: reading %s: %w", location, err)
	}
	return data, nil
}

func (a *Azure) Stat(ctx context.Context, location string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	container, key, err := splitLocation(location, "azure")
	if err != nil {
		return 0, err
	}

	props, err := a.client.ServiceClient().
		NewContainerClient(container).
		NewBlobClient(key).
		GetProperties(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("azure: stat %s: %w", location, err)
	}
	if props.ContentLength == nil {
		return 0, fmt.Errorf("azure: stat %s: no content length in response", location)
	}
	return *props.ContentLength, nil
}

func (a *Azure) Delete(ctx context.Context, location string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	container, key, err := splitLocation(location, "azure")
	if err != nil {
		return err
	}

	if _, err := a.client.DeleteBlob(ctx, container, key, nil); err != nil {
		return fmt.Errorf("azure: deleting %s: %w", location, err)
	}
	return nil
}
