package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

const chatImageFolder = "chat-images"

type CloudStorageClient struct {
	client     *storage.Client
	bucketName string
}

func NewCloudStorageClient(ctx context.Context, bucketName string, opts ...option.ClientOption) (*CloudStorageClient, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %v", err)
	}

	return &CloudStorageClient{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// ChatImageObjectName builds the object name for an image sent by userID. Names never
// collide, so an upload never replaces an earlier one.
func ChatImageObjectName(userID, extension string) string {
	if extension == "" {
		extension = "bin"
	}
	return fmt.Sprintf("%s/%s/%s-%s.%s", chatImageFolder, userID, uuid.New().String(), time.Now().Format("20060102150405"), extension)
}

// PutChatImage stores the image and returns its server-relative path, "/" followed by the
// object name.
func (c *CloudStorageClient) PutChatImage(ctx context.Context, userID, contentType, extension string, file io.Reader) (string, error) {
	name := ChatImageObjectName(userID, extension)

	wc := c.client.Bucket(c.bucketName).Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	wc.ContentType = contentType
	wc.CacheControl = "private, max-age=86400"

	if _, err := io.Copy(wc, file); err != nil {
		return "", fmt.Errorf("failed to copy image to GCS: %v", err)
	}

	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %v", err)
	}

	return "/" + name, nil
}

func (c *CloudStorageClient) Close() error {
	return c.client.Close()
}
