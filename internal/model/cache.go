package model

import "time"

// Provenance records where a promoted coordinate came from and who accepted it.
type Provenance struct {
	Source     SourceID  `json:"source"`
	Confidence float64   `json:"confidence"`
	ApprovedBy string    `json:"approved_by,omitempty"`
	PromotedAt time.Time `json:"promoted_at"`
}

// ValidatedCacheEntry is a curated name → coordinate mapping. Entries never
// expire; they are only replaced by a later promotion or removed explicitly.
type ValidatedCacheEntry struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Coord       Coordinate `json:"coord"`
	CountryCode string     `json:"country_code,omitempty"`
	CellToken   string     `json:"cell_token,omitempty"`
	Provenance  Provenance `json:"provenance"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CacheWriteResult reports the outcome of a promotion.
type CacheWriteResult struct {
	Key     string              `json:"key"`
	Created bool                `json:"created"`
	Entry   ValidatedCacheEntry `json:"entry"`
}
