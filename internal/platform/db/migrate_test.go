package db

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_consent.sql": {Data: []byte("CREATE TABLE study_patient_scope_consent (id UUID);")},
		"001_core.sql":    {Data: []byte("CREATE TABLE organization (id UUID);")},
		"010_index.sql":   {Data: []byte("CREATE INDEX x ON organization (id);")},
		"README.md":       {Data: []byte("not a migration")},
		"notes.sql":       {Data: []byte("-- no numeric prefix")},
		"abc_x.sql":       {Data: []byte("-- non-numeric prefix")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	wantVersions := []int{1, 2, 10}
	for i, v := range wantVersions {
		if migrations[i].Version != v {
			t.Errorf("migrations[%d].Version = %d, want %d", i, migrations[i].Version, v)
		}
	}
	if migrations[0].Name != "001_core.sql" {
		t.Errorf("expected name 001_core.sql, got %s", migrations[0].Name)
	}
	if !strings.Contains(migrations[0].SQL, "organization") {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_core.sql":  {Data: []byte("SELECT 1;")},
		"001_other.sql": {Data: []byte("SELECT 2;")},
	}

	_, err := NewMigrator(nil, fsys).LoadMigrations()
	if err == nil {
		t.Fatal("expected error for duplicate versions")
	}
	if !strings.Contains(err.Error(), "duplicate migration version 1") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected no migrations, got %d", len(migrations))
	}
}
