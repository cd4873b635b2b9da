package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const XlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// ParseGCSURI splits gs://bucket/object. ok is false for anything else.
func ParseGCSURI(uri string) (bucket, object string, ok bool) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	if strings.Contains(parts[1], "..") {
		return "", "", false
	}
	return parts[0], parts[1], true
}

type gcsObjectReader struct {
	*storage.Reader
	client *storage.Client
}

func (r *gcsObjectReader) Close() error {
	err := r.Reader.Close()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// OpenSource opens a workbook from a local path or a gs:// URI.
func OpenSource(ctx context.Context, source string) (io.ReadCloser, error) {
	bucket, object, ok := ParseGCSURI(source)
	if !ok {
		if strings.HasPrefix(strings.TrimSpace(source), "gs://") {
			return nil, fmt.Errorf("invalid gcs uri %q", source)
		}
		return os.Open(source)
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		_ = client.Close()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gcs object %s/%s not found: %w", bucket, object, err)
		}
		return nil, err
	}
	return &gcsObjectReader{Reader: rc, client: client}, nil
}

// UploadBytesToGCS writes data to bucket/objectName and returns its gs:// URI.
func UploadBytesToGCS(ctx context.Context, bucketName, objectName string, data []byte, contentType string) (string, error) {
	if bucketName == "" {
		return "", errors.New("bucket is required")
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to upload bytes to Google Cloud Storage: %v", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %v", err)
	}
	return "gs://" + bucketName + "/" + objectName, nil
}
