package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations_Embedded(t *testing.T) {
	all, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(all))
	}
	if all[0].name != "001_analyses.sql" || all[1].name != "002_analyses_path_index.sql" {
		t.Errorf("unexpected order: %+v", all)
	}

	pending := pendingMigrations(all, map[int]bool{1: true})
	if len(pending) != 1 || pending[0].version != 2 {
		t.Errorf("expected only version 2 pending, got %+v", pending)
	}
	if got := pendingMigrations(all, map[int]bool{1: true, 2: true}); len(got) != 0 {
		t.Errorf("expected nothing pending, got %+v", got)
	}
}

func TestLoadMigrations_Ordering(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_later.sql": {Data: []byte("SELECT 1")},
		"migrations/002_early.sql": {Data: []byte("SELECT 1")},
		"migrations/README.md":     {Data: []byte("docs")},
	}

	all, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 || all[0].version != 2 || all[1].version != 10 {
		t.Errorf("expected versions [2 10], got %+v", all)
	}
}

func TestLoadMigrations_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr string
	}{
		{
			name:    "missing version",
			fsys:    fstest.MapFS{"migrations/init.sql": {Data: []byte("SELECT 1")}},
			wantErr: "positive version number",
		},
		{
			name: "duplicate version",
			fsys: fstest.MapFS{
				"migrations/001_a.sql": {Data: []byte("SELECT 1")},
				"migrations/1_b.sql":   {Data: []byte("SELECT 1")},
			},
			wantErr: "share version 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadMigrations(tt.fsys)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
