package statements

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
)

// Loader reads entry files from the local filesystem or from GCS.
type Loader struct {
	fetch func(ctx context.Context, gcsURI string) ([]byte, error)
}

// NewLoader creates a Loader that downloads gs:// sources with FetchFromGCS.
func NewLoader() *Loader {
	return &Loader{fetch: FetchFromGCS}
}

// NewLoaderWithFetcher creates a Loader with a custom GCS fetcher, for tests.
func NewLoaderWithFetcher(fetch func(ctx context.Context, gcsURI string) ([]byte, error)) *Loader {
	return &Loader{fetch: fetch}
}

// Load reads and decodes the entries at source. The file name becomes the
// default Source of every entry.
func (l *Loader) Load(ctx context.Context, source string) ([]domain.ParsedEntry, error) {
	log := logger.FromContext(ctx)

	var (
		data     []byte
		filename string
		err      error
	)
	if IsGCSURI(source) {
		filename = ExtractFilenameFromGCSURI(source)
		data, err = l.fetch(ctx, source)
	} else {
		filename = filepath.Base(source)
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("Load: reading %s: %w", source, err)
	}

	entries, err := Decode(data, filename)
	if err != nil {
		return nil, fmt.Errorf("Load: %s: %w", source, err)
	}

	log.Debug().
		Str("source", source).
		Int("entries", len(entries)).
		Msg("Loaded statement entries")
	return entries, nil
}
