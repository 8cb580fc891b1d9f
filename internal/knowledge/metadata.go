package knowledge

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PathMetadata holds the categorical tags of a processed payload file,
// inferred from its location: <root>/<service>/<hmo>/<tier>.json.
type PathMetadata struct {
	// Service is the knowledge-base page the payload came from (e.g. "dentel_services").
	Service string
	// HMO is the health fund tag (maccabi, meuhedet, clalit).
	HMO string
	// Tier is the insurance tier tag (gold, silver, bronze).
	Tier string
}

// hmoAliases maps directory names seen in hand-edited trees to canonical tags.
var hmoAliases = map[string]string{
	"maccabi":   "maccabi",
	"macabi":    "maccabi",
	"meuhedet":  "meuhedet",
	"meuchedet": "meuhedet",
	"clalit":    "clalit",
	"klalit":    "clalit",
}

// InferMetadata returns the tags for path relative to root. Tags are
// normalised here, once, so queries can match them exactly.
func InferMetadata(root, path string) (PathMetadata, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return PathMetadata{}, fmt.Errorf("knowledge: %s is not under %s: %w", path, root, err)
	}
	segments := trimSegments(filepath.ToSlash(rel))
	if len(segments) != 3 || !strings.HasSuffix(segments[2], ".json") {
		return PathMetadata{}, fmt.Errorf("knowledge: %s is not <service>/<hmo>/<tier>.json", rel)
	}

	m := PathMetadata{
		Service: segments[0],
		HMO:     segments[1],
		Tier:    strings.TrimSuffix(segments[2], ".json"),
	}
	if alias, ok := hmoAliases[m.HMO]; ok {
		m.HMO = alias
	}
	return m, nil
}

// trimSegments splits a slash path into non-empty lowercase segments.
func trimSegments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" && p != "." {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
