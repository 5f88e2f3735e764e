package main

import (
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/northpeak/studio/migrations"
)

type fakeMigrator struct {
	up     int
	steps  []int
	forced int
	err    error
}

func (f *fakeMigrator) Up() error                    { f.up++; return f.err }
func (f *fakeMigrator) Steps(n int) error            { f.steps = append(f.steps, n); return f.err }
func (f *fakeMigrator) Version() (uint, bool, error) { return 3, false, f.err }
func (f *fakeMigrator) Force(v int) error            { f.forced = v; return nil }

func TestRunCommands(t *testing.T) {
	f := &fakeMigrator{}
	if err := run(f, []string{"up"}); err != nil {
		t.Fatalf("up: %v", err)
	}
	if err := run(f, []string{"down", "2"}); err != nil {
		t.Fatalf("down: %v", err)
	}
	if err := run(f, []string{"force", "4"}); err != nil {
		t.Fatalf("force: %v", err)
	}
	if f.up != 1 || len(f.steps) != 1 || f.steps[0] != -2 || f.forced != 4 {
		t.Fatalf("unexpected calls %+v", f)
	}
}

func TestRunNoChangeIsNotAnError(t *testing.T) {
	if err := run(&fakeMigrator{err: migrate.ErrNoChange}, []string{"up"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	for _, args := range [][]string{{"sideways"}, {"down", "0"}, {"force"}, {"force", "x"}} {
		if err := run(&fakeMigrator{}, args); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries)%2 != 0 || len(entries) == 0 {
		t.Fatalf("expected paired up/down files, got %d", len(entries))
	}
}
