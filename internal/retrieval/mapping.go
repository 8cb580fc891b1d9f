package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"github.com/54b3r/hmochat-go/internal/logging"
)

// Display values as they appear in user-facing text and model tool calls,
// mapped to the internal corpus tags.
var (
	hmoTags = map[string]string{
		"מכבי":   "maccabi",
		"מאוחדת": "meuhedet",
		"כללית":  "clalit",
	}
	tierTags = map[string]string{
		"זהב": "gold",
		"כסף": "silver",
		"ארד": "bronze",
	}
	hmoDisplay  = invert(hmoTags)
	tierDisplay = invert(tierTags)
)

func invert(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// NormalizeHMO maps a health fund display value to its corpus tag. Internal
// tags pass through unchanged. Anything else is lower-cased and logged as a
// best-effort fallback; it will simply match no records.
func NormalizeHMO(ctx context.Context, display string) string {
	return normalize(ctx, "hmo", display, hmoTags, hmoDisplay)
}

// NormalizeTier maps an insurance tier display value to its corpus tag, with
// the same fallback as NormalizeHMO.
func NormalizeTier(ctx context.Context, display string) string {
	return normalize(ctx, "tier", display, tierTags, tierDisplay)
}

// DisplayHMO maps a corpus tag back to its display value. Unknown tags are
// returned as given.
func DisplayHMO(tag string) string { return lookupOr(hmoDisplay, tag) }

// DisplayTier maps a corpus tag back to its display value.
func DisplayTier(tag string) string { return lookupOr(tierDisplay, tag) }

func lookupOr(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return key
}

func normalize(ctx context.Context, field, display string, toTag, toDisplay map[string]string) string {
	v := strings.TrimSpace(display)
	if tag, ok := toTag[v]; ok {
		return tag
	}
	lower := strings.ToLower(v)
	if _, ok := toDisplay[lower]; ok {
		return lower
	}
	logging.FromContext(ctx).Warn("retrieval: unknown display value, falling back to lower-case tag",
		slog.String("field", field),
		slog.String("value", display),
	)
	return lower
}
