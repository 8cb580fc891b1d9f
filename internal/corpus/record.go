// Package corpus reads and writes the flat-file embedding corpus: a metadata
// CSV, a parallel .npy vector array, and one JSON payload per record.
// Row i of the CSV and row i of the vector array describe the same record;
// nothing in this package ever reorders one without the other.
package corpus

import (
	"errors"
	"fmt"
)

// ErrCorpusLoad is returned (wrapped) for every failure that makes a corpus
// unusable: missing files, count mismatches, unreadable payloads, duplicate
// ids, or vectors of unequal length.
var ErrCorpusLoad = errors.New("corpus load failed")

// File names inside a corpus directory.
const (
	MetadataFile = "embeddings_metadata.csv"
	VectorsFile  = "embeddings.npy"
	PayloadDir   = "json_data"
)

// metadataHeader is the exact column order of the metadata CSV.
var metadataHeader = []string{"id", "service", "hmo", "tier", "file_path", "text"}

// Service is one row of a knowledge-base table for a single HMO and tier.
type Service struct {
	Name     string `json:"name"`
	Benefits string `json:"benefits"`
}

// Payload is the structured document returned verbatim on a match.
type Payload struct {
	Category    string            `json:"category"`
	Description string            `json:"description"`
	HMO         string            `json:"hmo"`
	Tier        string            `json:"tier"`
	Services    []Service         `json:"services"`
	Contact     map[string]string `json:"contact,omitempty"`
}

// Record is a single embedded corpus entry.
type Record struct {
	// ID is derived from (Service, HMO, Tier), see RecordID.
	ID string
	// Service, HMO and Tier are the categorical tags used for exact-match
	// filtering. They are normalised once, at build time.
	Service string
	HMO     string
	Tier    string
	// FilePath is the source payload file the record was built from.
	FilePath string
	// Text is the exact string that was embedded.
	Text string
	// Embedding is the dense vector computed from Text.
	Embedding []float32
	// Payload is the structured document behind Text.
	Payload Payload
}

// RecordID returns the deterministic id for a (service, hmo, tier) triple.
func RecordID(service, hmo, tier string) string {
	return service + "_" + hmo + "_" + tier
}

// Tag returns the value of a categorical tag by name. ok is false for names
// that are not tags, so filters on unknown keys can be told apart from
// filters that simply match nothing.
func (r *Record) Tag(name string) (value string, ok bool) {
	switch name {
	case "service":
		return r.Service, true
	case "hmo":
		return r.HMO, true
	case "tier":
		return r.Tier, true
	case "id":
		return r.ID, true
	default:
		return "", false
	}
}

// loadErrorf wraps ErrCorpusLoad with a formatted reason.
func loadErrorf(format string, args ...any) error {
	return fmt.Errorf("corpus: %w: %s", ErrCorpusLoad, fmt.Sprintf(format, args...))
}
