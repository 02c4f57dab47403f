package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"prodvault/guard"
	"prodvault/storage"
	"prodvault/types"
)

// failingKV errors on every operation with a storage fault.
type failingKV struct{}

func (failingKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("%w: get %q: backend down", types.ErrStorage, key)
}

func (failingKV) Put(ctx context.Context, key string, value []byte) error {
	return fmt.Errorf("%w: put %q: backend down", types.ErrStorage, key)
}

func (failingKV) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	return false, fmt.Errorf("%w: putifabsent %q: backend down", types.ErrStorage, key)
}

func (failingKV) CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error) {
	return false, fmt.Errorf("%w: cas %q: backend down", types.ErrStorage, key)
}

func (failingKV) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, fmt.Errorf("%w: list %q: backend down", types.ErrStorage, prefix)
}

func TestStreamHandlerSkipsBadPayloads(t *testing.T) {
	p, kv := testProcessor(t, ProcessorConfig{})
	handler := NewStreamHandler(p, nil)
	ctx := context.Background()

	mark, err := handler.HandleMessage(ctx, []byte("{not json"))
	if err != nil || !mark {
		t.Fatalf("undecodable payload: mark=%v err=%v, want marked and no error", mark, err)
	}

	invalid, _ := json.Marshal(types.ProductRecord{Name: "", Price: 5, Store: "loja-a"})
	mark, err = handler.HandleMessage(ctx, invalid)
	if err != nil || !mark {
		t.Fatalf("invalid record: mark=%v err=%v, want marked and no error", mark, err)
	}

	products, err := storage.LoadProducts(ctx, kv)
	if err != nil {
		t.Fatalf("LoadProducts: %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("bad payloads must not store anything, got %d products", len(products))
	}
}

func TestStreamHandlerStoresValidRecords(t *testing.T) {
	p, kv := testProcessor(t, ProcessorConfig{})
	handler := NewStreamHandler(p, nil)
	ctx := context.Background()

	payload, _ := json.Marshal(scraped("Fone De Ouvido On-ear", 73, "b2drop"))
	mark, err := handler.HandleMessage(ctx, payload)
	if err != nil || !mark {
		t.Fatalf("valid record: mark=%v err=%v", mark, err)
	}

	products, err := storage.LoadProducts(ctx, kv)
	if err != nil {
		t.Fatalf("LoadProducts: %v", err)
	}
	if len(products) != 1 || products[0].Name != "Fone De Ouvido On-ear" {
		t.Fatalf("stored products = %+v", products)
	}
}

func TestStreamHandlerLeavesFailedUpsertUnmarked(t *testing.T) {
	g, err := guard.New(guard.Config{KV: failingKV{}})
	if err != nil {
		t.Fatalf("guard.New: %v", err)
	}
	p, err := NewProcessor(ProcessorConfig{Guard: g})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	handler := NewStreamHandler(p, nil)

	payload, _ := json.Marshal(scraped("Fone De Ouvido On-ear", 73, "b2drop"))
	mark, herr := handler.HandleMessage(context.Background(), payload)
	if mark {
		t.Fatal("failed upsert must stay unmarked for redelivery")
	}
	if !errors.Is(herr, types.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", herr)
	}
}
