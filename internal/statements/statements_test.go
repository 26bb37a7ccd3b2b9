package statements

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-ledger/internal/domain"
)

const sampleEntries = `[
  {"date": "2024-03-01", "payee": " TESCO STORES ", "amount": "-23.45", "external_id": "FIT-1"},
  {"date": "2024-03-02", "payee": "Employer Ltd", "amount": 2500.10, "memo": "salary", "source": "bank-feed"}
]`

func TestDecode(t *testing.T) {
	entries, err := Decode([]byte(sampleEntries), "march.json")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "TESCO STORES", entries[0].Payee)
	assert.True(t, entries[0].Amount.Equal(decimal.RequireFromString("-23.45")))
	assert.Equal(t, "FIT-1", entries[0].ExternalID)
	assert.Equal(t, "march.json", entries[0].Source)
	assert.Equal(t, "2024-03-01", entries[0].Date.Format(domain.DateLayout))

	assert.True(t, entries[1].Amount.Equal(decimal.RequireFromString("2500.1")))
	assert.Equal(t, "salary", entries[1].Memo)
	assert.Equal(t, "bank-feed", entries[1].Source)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not an array", `{"date": "2024-03-01"}`},
		{"bad date", `[{"date": "01/03/2024", "payee": "Shop", "amount": "1"}]`},
		{"blank payee", `[{"date": "2024-03-01", "payee": "  ", "amount": "1"}]`},
		{"bad amount", `[{"date": "2024-03-01", "payee": "Shop", "amount": "ten"}]`},
		{"unknown field", `[{"date": "2024-03-01", "payee": "Shop", "amount": "1", "balance": "9"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data), "x.json")
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{"gs://statements/2024/march.json", "statements", "2024/march.json", false},
		{"gs://statements/march.json", "statements", "march.json", false},
		{"gs://statements", "", "", true},
		{"gs://statements/", "", "", true},
		{"/tmp/march.json", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseGCSURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantObject, object)
		})
	}
}

func TestExtractFilenameFromGCSURI(t *testing.T) {
	assert.Equal(t, "march.json", ExtractFilenameFromGCSURI("gs://bucket/folder/march.json"))
	assert.Equal(t, "bucket", ExtractFilenameFromGCSURI("gs://bucket"))
}

func TestLoader_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "april.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleEntries), 0o600))

	entries, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "april.json", entries[0].Source)

	_, err = NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoader_GCS(t *testing.T) {
	var fetched string
	loader := NewLoaderWithFetcher(func(ctx context.Context, uri string) ([]byte, error) {
		fetched = uri
		return []byte(sampleEntries), nil
	})

	entries, err := loader.Load(context.Background(), "gs://statements/2024/may.json")
	require.NoError(t, err)
	assert.Equal(t, "gs://statements/2024/may.json", fetched)
	assert.Equal(t, "may.json", entries[0].Source)

	fetchErr := errors.New("permission denied")
	failing := NewLoaderWithFetcher(func(ctx context.Context, uri string) ([]byte, error) {
		return nil, fetchErr
	})
	_, err = failing.Load(context.Background(), "gs://statements/may.json")
	assert.ErrorIs(t, err, fetchErr)
}
