package statements

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

const gcsScheme = "gs://"

// IsGCSURI reports whether source names a Cloud Storage object.
func IsGCSURI(source string) bool {
	return strings.HasPrefix(source, gcsScheme)
}

// ParseGCSURI splits "gs://bucket/path/to/object" into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !IsGCSURI(uri) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, gcsScheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FetchFromGCS downloads the file bytes from the given GCS URI.
// It assumes Application Default Credentials are configured.
func FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, err
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: creating storage client: %w", err)
	}
	defer storageClient.Close()

	rc, err := storageClient.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: reading bytes: %w", err)
	}

	return data, nil
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/march.json" → "march.json"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, gcsScheme)

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}

	return path.Base(parts[1])
}
