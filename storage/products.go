package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"prodvault/identity"
	"prodvault/types"
)

// LoadProducts reads every stored product under the record prefix. Entries
// that fail to decode are skipped; a record that cannot be read does not
// make the rest of the catalog unreadable.
func LoadProducts(ctx context.Context, kv KVStore) ([]types.StoredProduct, error) {
	keys, err := kv.List(ctx, identity.RecordKeyPrefix)
	if err != nil {
		return nil, err
	}

	products := make([]types.StoredProduct, 0, len(keys))
	for _, key := range keys {
		data, ok, err := kv.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var p types.StoredProduct
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

// LoadProduct reads one product by storage ID.
func LoadProduct(ctx context.Context, kv KVStore, storageID string) (types.StoredProduct, error) {
	data, ok, err := kv.Get(ctx, identity.RecordKey(storageID))
	if err != nil {
		return types.StoredProduct{}, err
	}
	if !ok {
		return types.StoredProduct{}, fmt.Errorf("%w: product %q", types.ErrNotFound, storageID)
	}
	var p types.StoredProduct
	if err := json.Unmarshal(data, &p); err != nil {
		return types.StoredProduct{}, fmt.Errorf("%w: decode product %q: %v", types.ErrStorage, storageID, err)
	}
	return p, nil
}

// SaveProduct marshals and writes a product unconditionally. Restore and
// merge application use this; the upsert path goes through conditional
// writes instead.
func SaveProduct(ctx context.Context, kv KVStore, p types.StoredProduct) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: encode product %q: %v", types.ErrStorage, p.StorageID, err)
	}
	return kv.Put(ctx, identity.RecordKey(p.StorageID), data)
}
