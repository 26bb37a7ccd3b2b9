package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-ledger/internal/config"
)

func TestParseFlags(t *testing.T) {
	cfg := config.Config{DBDriver: "sqlite", DBDSN: "./ledger.db", BQDataset: "finance"}

	tests := []struct {
		name    string
		args    []string
		cfg     config.Config
		want    options
		wantErr bool
	}{
		{
			name: "defaults from config",
			args: nil,
			cfg:  cfg,
			want: options{target: targetSQL, driver: "sqlite", dsn: "./ledger.db", datasetID: "finance", appliedBy: "migrate-cli"},
		},
		{
			name: "postgres override",
			args: []string{"-driver", "postgres", "-dsn", "postgres://localhost/ledger", "-applied-by", "deploy"},
			cfg:  cfg,
			want: options{target: targetSQL, driver: "postgres", dsn: "postgres://localhost/ledger", datasetID: "finance", appliedBy: "deploy"},
		},
		{
			name:    "bigquery needs a project",
			args:    []string{"-target", "bigquery"},
			cfg:     cfg,
			wantErr: true,
		},
		{
			name: "bigquery project from config",
			args: []string{"-target", "bigquery", "-status"},
			cfg:  config.Config{DBDriver: "sqlite", DBDSN: "x.db", BQProject: "acme-prod", BQDataset: "ledger"},
			want: options{target: targetBigQuery, driver: "sqlite", dsn: "x.db", projectID: "acme-prod", datasetID: "ledger", appliedBy: "migrate-cli", status: true},
		},
		{
			name:    "unknown target",
			args:    []string{"-target", "mysql"},
			cfg:     cfg,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args, tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
