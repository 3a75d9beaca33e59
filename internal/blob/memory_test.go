package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryPutGetRoundTrip(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	info, err := store.Put(ctx, "exports/t1/report.csv", strings.NewReader("a,b\n1,2\n"), PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"team_id": "t1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 8 || info.ContentType != "text/csv" {
		t.Fatalf("unexpected info %+v", info)
	}

	got, rc, err := store.Get(ctx, "exports/t1/report.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Fatalf("unexpected content %q", data)
	}
	if got.Metadata["team_id"] != "t1" {
		t.Fatalf("expected metadata preserved, got %+v", got.Metadata)
	}
}

func TestMemoryPutRejectsDuplicateKey(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	if _, err := store.Put(ctx, "k", strings.NewReader("x"), PutOptions{}); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if _, err := store.Put(ctx, "k", strings.NewReader("y"), PutOptions{}); err == nil {
		t.Fatalf("expected duplicate key to fail")
	}
}

func TestMemoryDeleteAndList(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	for _, key := range []string{"exports/t1/a.csv", "exports/t1/b.json", "exports/t2/c.csv"} {
		if _, err := store.Put(ctx, key, strings.NewReader("data"), PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	infos, err := store.List(ctx, "exports/t1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "exports/t1/a.csv" {
		t.Fatalf("expected sorted prefix listing, got %+v", infos)
	}

	existed, err := store.Delete(ctx, "exports/t1/a.csv")
	if err != nil || !existed {
		t.Fatalf("expected delete of existing key, got %v %v", existed, err)
	}
	existed, err = store.Delete(ctx, "exports/t1/a.csv")
	if err != nil || existed {
		t.Fatalf("expected second delete to report missing, got %v %v", existed, err)
	}
}

func TestMemoryPresignUnsupported(t *testing.T) {
	store := NewMemory()
	if _, err := store.PresignURL(context.Background(), "k", SignedURLOptions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestMemoryMetadataIsolation(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	meta := map[string]string{"k": "v"}
	if _, err := store.Put(ctx, "obj", strings.NewReader("x"), PutOptions{Metadata: meta}); err != nil {
		t.Fatalf("put: %v", err)
	}
	meta["k"] = "mutated"

	info, err := store.Head(ctx, "obj")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if info.Metadata["k"] != "v" {
		t.Fatalf("expected stored metadata isolated from caller map, got %+v", info.Metadata)
	}
	info.Metadata["k"] = "tampered"
	again, _ := store.Head(ctx, "obj")
	if again.Metadata["k"] != "v" {
		t.Fatalf("expected returned metadata copies, got %+v", again.Metadata)
	}
}
