package database

import (
	"testing"
	"testing/fstest"
)

func TestMigrationFilesSortedAndFiltered(t *testing.T) {
	migrations := fstest.MapFS{
		"migrations/002_comments.sql": &fstest.MapFile{Data: []byte("CREATE TABLE comments();")},
		"migrations/001_init.sql":     &fstest.MapFile{Data: []byte("CREATE TABLE artifacts();")},
		"migrations/README.md":        &fstest.MapFile{Data: []byte("docs")},
		"migrations/old/003_x.sql":    &fstest.MapFile{Data: []byte("nested")},
	}

	files, err := MigrationFiles(migrations, "migrations")
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(files) != 2 || files[0] != "001_init.sql" || files[1] != "002_comments.sql" {
		t.Fatalf("unexpected files %v", files)
	}
}

func TestMigrationFilesMissingDir(t *testing.T) {
	if _, err := MigrationFiles(fstest.MapFS{}, "nope"); err == nil {
		t.Fatal("expected error for missing dir")
	}
}
