package corpus

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Load reads a corpus directory into memory. Every structural problem is
// reported as ErrCorpusLoad: the caller is expected to abort startup rather
// than serve from a partial corpus.
func Load(dir string) ([]Record, error) {
	rows, err := readMetadata(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, err
	}

	vectors, err := readVectors(filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, err
	}

	if len(rows) != len(vectors) {
		return nil, loadErrorf("mismatch between metadata (%d records) and embeddings (%d vectors)", len(rows), len(vectors))
	}

	records := make([]Record, len(rows))
	seen := make(map[string]int, len(rows))
	dim := -1
	for i, row := range rows {
		if prev, dup := seen[row.ID]; dup {
			return nil, loadErrorf("duplicate id %q at rows %d and %d", row.ID, prev, i)
		}
		seen[row.ID] = i

		if dim < 0 {
			dim = len(vectors[i])
		}
		if len(vectors[i]) != dim {
			return nil, loadErrorf("vector %d has dimension %d, corpus dimension is %d", i, len(vectors[i]), dim)
		}

		payload, err := readPayload(filepath.Join(dir, PayloadDir, row.ID+".json"))
		if err != nil {
			return nil, err
		}

		row.Embedding = vectors[i]
		row.Payload = payload
		records[i] = row
	}

	return records, nil
}

// readMetadata parses the metadata CSV, checking the header column order.
func readMetadata(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, loadErrorf("metadata file: %v", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(metadataHeader)

	header, err := r.Read()
	if err != nil {
		return nil, loadErrorf("metadata header: %v", err)
	}
	// Tolerate a UTF-8 BOM written by spreadsheet tools.
	if len(header) > 0 {
		header[0] = trimBOM(header[0])
	}
	if !slices.Equal(header, metadataHeader) {
		return nil, loadErrorf("metadata header is %v, want %v", header, metadataHeader)
	}

	var out []Record
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, loadErrorf("metadata row %d: %v", len(out)+1, err)
		}
		out = append(out, Record{
			ID:       fields[0],
			Service:  fields[1],
			HMO:      fields[2],
			Tier:     fields[3],
			FilePath: fields[4],
			Text:     fields[5],
		})
	}
	return out, nil
}

// readVectors decodes the .npy vector array.
func readVectors(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, loadErrorf("embeddings file: %v", err)
	}
	defer f.Close()

	vectors, err := ReadNPY(f)
	if err != nil {
		return nil, loadErrorf("embeddings file %s: %v", path, err)
	}
	return vectors, nil
}

// readPayload decodes one json_data/{id}.json file.
func readPayload(path string) (Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, loadErrorf("payload: %v", err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, loadErrorf("payload %s: %v", filepath.Base(path), err)
	}
	return p, nil
}

func trimBOM(s string) string {
	return strings.TrimPrefix(s, "\ufeff")
}

// Stat summarises a corpus without keeping vectors, for CLI output.
type Stat struct {
	Records   int
	Dimension int
	HMOs      map[string]int
	Tiers     map[string]int
}

// Summarise counts records per tag value.
func Summarise(records []Record) Stat {
	st := Stat{Records: len(records), HMOs: map[string]int{}, Tiers: map[string]int{}}
	for _, r := range records {
		if st.Dimension == 0 {
			st.Dimension = len(r.Embedding)
		}
		st.HMOs[r.HMO]++
		st.Tiers[r.Tier]++
	}
	return st
}

// String renders the summary on one line.
func (s Stat) String() string {
	return fmt.Sprintf("%d records, dimension %d, hmos %v, tiers %v", s.Records, s.Dimension, s.HMOs, s.Tiers)
}
