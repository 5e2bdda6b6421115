package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	return map[string]Store{
		"memory":     NewMemory(),
		"filesystem": fs,
	}
}

func TestPutGetHeadDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			payload := "ticket export payload"

			info, err := store.Put(ctx, "exports/a/artifact.json", strings.NewReader(payload), PutOptions{
				ContentType: "application/json",
				Metadata:    map[string]string{"export_id": "a"},
			})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Size != int64(len(payload)) || info.ContentType != "application/json" {
				t.Fatalf("put info: %+v", info)
			}

			head, err := store.Head(ctx, "exports/a/artifact.json")
			if err != nil {
				t.Fatalf("head: %v", err)
			}
			if head.Metadata["export_id"] != "a" {
				t.Fatalf("metadata lost: %+v", head.Metadata)
			}

			_, rc, err := store.Get(ctx, "exports/a/artifact.json")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil || string(data) != payload {
				t.Fatalf("read payload: %q err %v", data, err)
			}

			existed, err := store.Delete(ctx, "exports/a/artifact.json")
			if err != nil || !existed {
				t.Fatalf("delete: existed=%v err=%v", existed, err)
			}
			if _, err := store.Head(ctx, "exports/a/artifact.json"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("head after delete: %v", err)
			}
			existed, err = store.Delete(ctx, "exports/a/artifact.json")
			if err != nil || existed {
				t.Fatalf("idempotent delete: existed=%v err=%v", existed, err)
			}
		})
	}
}

func TestPutIsCreateOnly(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Put(ctx, "k", strings.NewReader("one"), PutOptions{}); err != nil {
				t.Fatalf("first put: %v", err)
			}
			if _, err := store.Put(ctx, "k", strings.NewReader("two"), PutOptions{}); err == nil {
				t.Fatal("second put of the same key must fail")
			}
		})
	}
}

func TestListByPrefix(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, key := range []string{"exports/a/1", "exports/a/2", "exports/b/1"} {
				if _, err := store.Put(ctx, key, strings.NewReader("x"), PutOptions{}); err != nil {
					t.Fatalf("put %s: %v", key, err)
				}
			}
			infos, err := store.List(ctx, "exports/a/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(infos) != 2 {
				t.Fatalf("list returned %d entries", len(infos))
			}
			for i := 1; i < len(infos); i++ {
				if infos[i-1].Key > infos[i].Key {
					t.Fatalf("list not sorted: %v", infos)
				}
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	if _, err := fs.Put(context.Background(), "../escape", strings.NewReader("x"), PutOptions{}); err == nil {
		t.Fatal("path traversal key must be rejected")
	}
}

func TestMemoryPresignUnsupported(t *testing.T) {
	if _, err := NewMemory().PresignURL(context.Background(), "k", time.Minute); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestFilesystemPresignIsFileURL(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	ctx := context.Background()
	if _, err := fs.Put(ctx, "k", strings.NewReader("x"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	url, err := fs.PresignURL(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Fatalf("presigned url = %q", url)
	}
}
