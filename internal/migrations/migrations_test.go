package migrations

import (
	"testing"
	"testing/fstest"
)

func TestMigrationFilenamePattern(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  string
		name     string
	}{
		{"0001_init_schema.sql", true, "0001", "init_schema"},
		{"001_invalid.sql", false, "", ""},       // wrong number format
		{"0001_test", false, "", ""},             // missing .sql
		{"0001.sql", false, "", ""},              // missing name
		{"invalid_0001_test.sql", false, "", ""}, // wrong order
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			m := FilenamePattern.FindStringSubmatch(tt.filename)
			if (m != nil) != tt.valid {
				t.Fatalf("match(%q) = %v, want valid=%v", tt.filename, m, tt.valid)
			}
			if tt.valid && (m[1] != tt.version || m[2] != tt.name) {
				t.Errorf("match(%q) = (%s, %s), want (%s, %s)", tt.filename, m[1], m[2], tt.version, tt.name)
			}
		})
	}
}

func TestRead(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_rules.sql":  {Data: []byte("CREATE TABLE {{DATASET_ID}}.rules (id INT64);")},
		"m/0001_init.sql":   {Data: []byte("CREATE TABLE {{DATASET_ID}}.tx (id INT64);")},
		"m/README.md":       {Data: []byte("ignored")},
		"m/nested/0003.sql": {Data: []byte("ignored")},
	}

	got, err := Read(fsys, "m", map[string]string{"DATASET_ID": "finance"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Read returned %d migrations, want 2", len(got))
	}
	if got[0].Version != 1 || got[1].Version != 2 {
		t.Errorf("versions = %d, %d; want 1, 2", got[0].Version, got[1].Version)
	}
	if got[0].SQL != "CREATE TABLE finance.tx (id INT64);" {
		t.Errorf("placeholder not replaced: %q", got[0].SQL)
	}

	// Checksums are computed before replacement.
	other, err := Read(fsys, "m", map[string]string{"DATASET_ID": "staging"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if other[0].Checksum != got[0].Checksum {
		t.Error("checksum should not depend on replacements")
	}
	if got[0].Checksum == got[1].Checksum {
		t.Error("different content should produce different checksums")
	}
}

func TestRead_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0001_a.sql": {Data: []byte("SELECT 1;")},
		"m/0001_b.sql": {Data: []byte("SELECT 2;")},
	}
	if _, err := Read(fsys, "m", nil); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestPending(t *testing.T) {
	all := []Migration{
		{Version: 1, Name: "init", Checksum: "aaa"},
		{Version: 2, Name: "rules", Checksum: "bbb"},
	}

	pending, err := Pending(all, []AppliedMigration{{Version: 1, Checksum: "aaa"}})
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Version != 2 {
		t.Errorf("pending = %+v, want only version 2", pending)
	}

	if _, err := Pending(all, []AppliedMigration{{Version: 1, Checksum: "zzz"}}); err == nil {
		t.Error("expected checksum mismatch error")
	}
}
