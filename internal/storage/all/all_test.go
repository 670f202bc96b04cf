package all

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"kddetl/internal/storage"
)

func TestAllBackendsRegistered(t *testing.T) {
	t.Parallel()

	want := []string{"memory", "mssql", "postgres", "sqlite"}
	if diff := cmp.Diff(want, storage.Kinds()); diff != "" {
		t.Fatalf("registered kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestNewMulti_UnsupportedKindListsBackends(t *testing.T) {
	t.Parallel()

	_, err := storage.NewMulti(context.Background(), storage.MultiConfig{Kind: "oracle"})
	if err == nil || !strings.Contains(err.Error(), "registered: memory, mssql, postgres, sqlite") {
		t.Fatalf("err=%v, want registered kinds listed", err)
	}
}
