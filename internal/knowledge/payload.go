package knowledge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/54b3r/hmochat-go/internal/corpus"
)

// Payloads splits a parsed page into one payload per (hmo, tier), keyed by
// "<hmo>/<tier>". Every combination gets a payload, even when no service
// lists benefits for it, so the tree shape is the same for every page.
func Payloads(p *Page) map[string]corpus.Payload {
	out := make(map[string]corpus.Payload, len(hmoOrder)*len(tierOrder))
	for _, hmo := range hmoOrder {
		for _, tier := range tierOrder {
			pl := corpus.Payload{
				Category:    p.Category,
				Description: p.Description,
				HMO:         hmoHebrew[hmo],
				Tier:        tierHebrew[tier],
				Services:    []corpus.Service{},
			}
			for _, row := range p.Services {
				if b := row.Benefits[hmo][tier]; b != "" {
					pl.Services = append(pl.Services, corpus.Service{Name: row.Name, Benefits: b})
				}
			}
			pl.Contact = contactFor(p, hmo)
			out[hmo+"/"+tier] = pl
		}
	}
	return out
}

// contactFor collects the phone-number sections and the more-info entry
// for one HMO. It returns nil when there is nothing to report.
func contactFor(p *Page, hmo string) map[string]string {
	contact := map[string]string{}
	headings := make([]string, 0, len(p.Contacts))
	for h := range p.Contacts {
		headings = append(headings, h)
	}
	sort.Strings(headings)
	for _, h := range headings {
		if !strings.Contains(h, phoneSectionMarker) {
			continue
		}
		if v, ok := p.Contacts[h][hmo]; ok {
			contact[strings.ReplaceAll(h, " ", "_")] = v
		}
	}
	if info, ok := p.MoreInfo[hmo]; ok {
		if info.Phone != "" {
			contact["phone"] = info.Phone
		}
		if info.Website != "" {
			contact["website"] = info.Website
		}
	}
	if len(contact) == 0 {
		return nil
	}
	return contact
}

// ConvertDir parses every *.html file in htmlDir and writes its payloads to
// outDir/<page>/<hmo>/<tier>.json. It returns the number of files written.
func ConvertDir(htmlDir, outDir string, progress func(msg string)) (int, error) {
	if progress == nil {
		progress = func(string) {}
	}
	entries, err := os.ReadDir(htmlDir)
	if err != nil {
		return 0, fmt.Errorf("knowledge: reading %s: %w", htmlDir, err)
	}

	written := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".html") {
			continue
		}
		path := filepath.Join(htmlDir, e.Name())
		progress(fmt.Sprintf("parsing %s", path))

		f, err := os.Open(path)
		if err != nil {
			return written, fmt.Errorf("knowledge: opening %s: %w", path, err)
		}
		page, err := ParsePage(f)
		f.Close()
		if err != nil {
			return written, fmt.Errorf("knowledge: %s: %w", path, err)
		}

		base := strings.TrimSuffix(e.Name(), ".html")
		for key, pl := range Payloads(page) {
			dst := filepath.Join(outDir, base, filepath.FromSlash(key)+".json")
			if err := writePayload(dst, pl); err != nil {
				return written, err
			}
			written++
		}
		progress(fmt.Sprintf("wrote payloads for %s", base))
	}
	return written, nil
}

func writePayload(path string, pl corpus.Payload) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("knowledge: creating %s: %w", filepath.Dir(path), err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(pl); err != nil {
		return fmt.Errorf("knowledge: encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("knowledge: writing %s: %w", path, err)
	}
	return nil
}
