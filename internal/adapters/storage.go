package adapters

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
)

// streamObject downloads a storage object to a local file.
func streamObject(ctx context.Context, client *storage.Client, bucket, object, destPath string) error {
	reader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer reader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create local file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, reader); err != nil {
		return fmt.Errorf("failed to copy object to local file: %w", err)
	}
	return nil
}

// readObject reads a storage object fully into memory.
func readObject(ctx context.Context, client *storage.Client, bucket, object string) ([]byte, error) {
	reader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, object, err)
	}
	return data, nil
}

// BlobWriter is the write-output adapter. It writes the composed artifact to
// the final output bucket as <input name>.json. Writes overwrite any prior
// object for the same input so a resumed or duplicated completion converges
// on the same output instead of corrupting it.
type BlobWriter struct {
	client *storage.Client
	bucket string
}

// NewBlobWriter creates the write-output adapter for the given bucket.
func NewBlobWriter(client *storage.Client, bucket string) (*BlobWriter, error) {
	if bucket == "" {
		return nil, fmt.Errorf("output bucket must be provided")
	}
	return &BlobWriter{client: client, bucket: bucket}, nil
}

func (w *BlobWriter) Write(ctx context.Context, d models.InputDescriptor, a *models.Artifact) (*models.Artifact, error) {
	const op = "write-output"
	if a == nil || a.Text == "" {
		return nil, Permanent(op, fmt.Errorf("no artifact content to write for %s", d.Name))
	}

	objectName := outputObjectName(d.Name)
	writer := w.client.Bucket(w.bucket).Object(objectName).NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := io.Copy(writer, strings.NewReader(a.Text)); err != nil {
		_ = writer.Close()
		return nil, classifyRemote(op, err)
	}
	if err := writer.Close(); err != nil {
		return nil, classifyRemote(op, err)
	}

	location := fmt.Sprintf("gs://%s/%s", w.bucket, objectName)
	slog.Info("Final artifact written.", "location", location, "input", d.Name)
	return &models.Artifact{Kind: "application/json", Location: location}, nil
}

// outputObjectName derives the final object name from the input name,
// replacing the input extension with .json.
func outputObjectName(name string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	if base == "" {
		base = name
	}
	return base + ".json"
}

var _ OutputWriter = (*BlobWriter)(nil)
