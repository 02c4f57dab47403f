// Package identity derives product identities: the deterministic Fingerprint
// used for duplicate detection and the unique StorageID used as the storage
// key. The two are deliberately distinct; a StorageID carries a time component
// and must never be used to decide whether two records are the same product.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"prodvault/types"

	"github.com/shopspring/decimal"
)

const (
	// DefaultSource labels records whose scraper did not identify itself.
	DefaultSource = "scraper"

	// RecordKeyPrefix namespaces stored products in the key-value store.
	RecordKeyPrefix = "product:"

	// IndexKeyPrefix namespaces the collision index entries that map a
	// collision hash to the owning StorageID.
	IndexKeyPrefix = "fp:"
)

// Fingerprint builds the deterministic identity composite for a record:
// normalized name, URL, fixed two-decimal price, and store, joined with "|".
// Identical logical input always yields the identical fingerprint, regardless
// of when or where it is computed. Name and store are mandatory; an empty URL
// is allowed.
func Fingerprint(rec types.ProductRecord) (string, error) {
	name := normalize(rec.Name)
	store := normalize(rec.Store)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", types.ErrValidation)
	}
	if store == "" {
		return "", fmt.Errorf("%w: store is required", types.ErrValidation)
	}
	price := decimal.NewFromFloat(rec.Price).StringFixed(2)
	return name + "|" + normalize(rec.URL) + "|" + price + "|" + store, nil
}

// FingerprintHash returns the hex SHA-256 of a fingerprint composite. The
// hash keeps index keys bounded no matter how long the product name is.
func FingerprintHash(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])
}

// CollisionHash returns the hex SHA-256 over the price-independent part of
// the identity (normalized name, URL, and store). The upsert index is keyed
// by this hash rather than the full fingerprint: price is the one composite
// field expected to drift between scrapes of the same listing, and a price
// change must update the existing record, not fork a second one.
func CollisionHash(rec types.ProductRecord) (string, error) {
	name := normalize(rec.Name)
	store := normalize(rec.Store)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", types.ErrValidation)
	}
	if store == "" {
		return "", fmt.Errorf("%w: store is required", types.ErrValidation)
	}
	sum := sha256.Sum256([]byte(name + "|" + normalize(rec.URL) + "|" + store))
	return hex.EncodeToString(sum[:]), nil
}

// NewStorageID mints a storage key for a record:
//
//	<source>_<first 16 hex of fingerprint hash>_<6-digit time component>
//
// The time component is the current time in microseconds modulo 1e6, so the
// same record minted twice gets two different IDs. Storage keys are unique;
// identity lives in the fingerprint.
func NewStorageID(rec types.ProductRecord) (string, error) {
	fp, err := Fingerprint(rec)
	if err != nil {
		return "", err
	}
	return StorageIDFrom(rec.Source, fp), nil
}

// StorageIDFrom mints a storage key from an already-computed fingerprint.
func StorageIDFrom(source, fingerprint string) string {
	suffix := time.Now().UnixMicro() % 1_000_000
	return fmt.Sprintf("%s_%s_%06d", SanitizeSource(source), FingerprintHash(fingerprint)[:16], suffix)
}

// RecordKey returns the key-value store key holding a stored product.
func RecordKey(storageID string) string {
	return RecordKeyPrefix + storageID
}

// IndexKey returns the key-value store key of the collision index entry.
func IndexKey(collisionHash string) string {
	return IndexKeyPrefix + collisionHash
}

// SanitizeSource lowercases a source label and strips everything outside
// [a-z0-9-]. Underscores become dashes because the underscore separates
// StorageID segments. An empty result falls back to DefaultSource.
func SanitizeSource(source string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(source)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '_' || r == ' ':
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return DefaultSource
	}
	return b.String()
}

// normalize trims, lowercases, and collapses internal whitespace runs to
// single spaces.
func normalize(s string) string {
	lowered := strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(lowered), " ")
}
