package corpus

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Write persists records to dir in row order: metadata CSV, vector array,
// and one payload file per record. Each file is written to a temporary name
// and renamed into place, so a reader never observes a half-written file.
func Write(dir string, records []Record) error {
	if err := os.MkdirAll(filepath.Join(dir, PayloadDir), 0o755); err != nil {
		return fmt.Errorf("corpus: create %s: %w", dir, err)
	}

	seen := make(map[string]bool, len(records))
	vectors := make([][]float32, len(records))
	for i := range records {
		if seen[records[i].ID] {
			return fmt.Errorf("corpus: duplicate id %q", records[i].ID)
		}
		seen[records[i].ID] = true
		vectors[i] = records[i].Embedding
	}

	if err := writeAtomic(filepath.Join(dir, MetadataFile), func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(metadataHeader); err != nil {
			return err
		}
		for _, r := range records {
			if err := cw.Write([]string{r.ID, r.Service, r.HMO, r.Tier, r.FilePath, r.Text}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	}); err != nil {
		return fmt.Errorf("corpus: write metadata: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, VectorsFile), func(w io.Writer) error {
		return WriteNPY(w, vectors)
	}); err != nil {
		return fmt.Errorf("corpus: write vectors: %w", err)
	}

	for _, r := range records {
		path := filepath.Join(dir, PayloadDir, r.ID+".json")
		if err := writeAtomic(path, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			return enc.Encode(r.Payload)
		}); err != nil {
			return fmt.Errorf("corpus: write payload %s: %w", r.ID, err)
		}
	}

	return nil
}

// writeAtomic writes via fill to a temp file beside path, then renames it.
func writeAtomic(path string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
