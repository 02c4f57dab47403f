package types

import (
	"time"
)

// ProductRecord represents a single scraped product as delivered by an
// upstream scraper, before it has an identity or any stored state.
type ProductRecord struct {
	Name        string  `json:"name" validate:"required"`
	Price       float64 `json:"price" validate:"gte=0"`
	Store       string  `json:"store" validate:"required"`
	URL         string  `json:"url,omitempty" validate:"omitempty,url"`
	ImageURL    string  `json:"image_url,omitempty" validate:"omitempty,url"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
	Source      string  `json:"source,omitempty"`
}

// StoredProduct is the persisted form of a product: the record fields plus
// identity, lifecycle metadata, and the audit trail left by merges.
type StoredProduct struct {
	StorageID       string `json:"storage_id"`
	Fingerprint     string `json:"fingerprint"`
	FingerprintHash string `json:"fingerprint_hash"`

	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Store       string  `json:"store"`
	URL         string  `json:"url,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
	Source      string  `json:"source"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdateCount int       `json:"update_count"`

	// SupersededBy points at the canonical record when this one was retired
	// by a duplicate merge. Retired records are kept, never deleted.
	SupersededBy    string   `json:"superseded_by,omitempty"`
	MergedFrom      []string `json:"merged_from,omitempty"`
	AlternateURLs   []string `json:"alternate_urls,omitempty"`
	AlternateImages []string `json:"alternate_images,omitempty"`
}

// Live reports whether the record is still the canonical entry for its
// fingerprint (i.e. it has not been superseded by a merge).
func (p *StoredProduct) Live() bool {
	return p.SupersededBy == ""
}

// Record projects the stored state back into the scraper-facing shape,
// which is what restore and re-fingerprinting operate on.
func (p *StoredProduct) Record() ProductRecord {
	return ProductRecord{
		Name:        p.Name,
		Price:       p.Price,
		Store:       p.Store,
		URL:         p.URL,
		ImageURL:    p.ImageURL,
		Category:    p.Category,
		Description: p.Description,
		Source:      p.Source,
	}
}
