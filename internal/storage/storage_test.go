package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"wknotifier/internal/schedule"
	logx "wknotifier/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should fail")
	}
}

func TestDrivers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		driver string
		file   string
	}{
		{driver: "file", file: "state.json"},
		{driver: "sqlite", file: "state.db"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "nested", tt.file)

			st, err := Open(Config{Driver: tt.driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}

			if _, ok, err := st.LoadSnapshot(ctx); err != nil || ok {
				t.Fatalf("empty LoadSnapshot: ok=%v err=%v", ok, err)
			}

			saved := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			want := Snapshot{
				State:   schedule.NotificationState{Lessons: 3, Reviews: 2},
				CycleID: "c2",
				Message: "You have 3 lessons and 2 reviews pending",
				SavedAt: saved,
			}
			if err := st.SaveSnapshot(ctx, Snapshot{State: schedule.NotificationState{Lessons: 1}}); err != nil {
				t.Fatalf("SaveSnapshot: %v", err)
			}
			first, ok, err := st.LoadSnapshot(ctx)
			if err != nil || !ok || first.SavedAt.IsZero() {
				t.Fatalf("zero SavedAt should be stamped: %+v ok=%v err=%v", first, ok, err)
			}
			if err := st.SaveSnapshot(ctx, want); err != nil {
				t.Fatalf("SaveSnapshot: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			// A fresh handle sees the persisted snapshot.
			st2, err := Open(Config{Driver: tt.driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer st2.Close()
			got, ok, err := st2.LoadSnapshot(ctx)
			if err != nil || !ok || got.State != want.State || got.CycleID != want.CycleID ||
				got.Message != want.Message || !got.SavedAt.Equal(saved) {
				t.Fatalf("LoadSnapshot = %+v ok=%v err=%v, want %+v", got, ok, err, want)
			}
		})
	}
}
