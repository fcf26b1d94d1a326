package store

import (
	"io/fs"
	"regexp"
	"testing"

	"filegate/api/internal/dbx"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	perDialect := map[dbx.Dialect]map[string]bool{}

	for _, dialect := range []dbx.Dialect{dbx.Postgres, dbx.SQLite} {
		files, err := MigrationFiles(dialect)
		if err != nil {
			t.Fatalf("open %s migrations: %v", dialect, err)
		}
		entries, err := fs.ReadDir(files, ".")
		if err != nil {
			t.Fatalf("read %s migrations: %v", dialect, err)
		}

		byVersion := map[string]map[string]bool{}
		names := map[string]bool{}
		for _, entry := range entries {
			match := pattern.FindStringSubmatch(entry.Name())
			if match == nil {
				continue
			}
			names[entry.Name()] = true
			if byVersion[match[1]] == nil {
				byVersion[match[1]] = map[string]bool{}
			}
			byVersion[match[1]][match[2]] = true
		}
		if len(byVersion) == 0 {
			t.Fatalf("no %s migrations discovered", dialect)
		}
		for version, dirs := range byVersion {
			if !dirs["up"] || !dirs["down"] {
				t.Fatalf("%s version %s must include both up and down files", dialect, version)
			}
		}
		perDialect[dialect] = names
	}

	for name := range perDialect[dbx.Postgres] {
		if !perDialect[dbx.SQLite][name] {
			t.Fatalf("migration %s has no sqlite counterpart", name)
		}
	}
	if len(perDialect[dbx.Postgres]) != len(perDialect[dbx.SQLite]) {
		t.Fatal("postgres and sqlite migration sets differ")
	}
}
