package corpus

import (
	"sort"
	"strings"
)

// FlattenText renders a payload as the plain-text block that gets embedded.
// The layout is fixed: changing it invalidates every stored embedding, so a
// corpus must be rebuilt after any edit here.
func FlattenText(p Payload) string {
	var b strings.Builder
	b.WriteString("Category: " + p.Category + "\n")
	b.WriteString("Description: " + p.Description + "\n")
	b.WriteString("HMO: " + p.HMO + "\n")
	b.WriteString("Tier: " + p.Tier)

	if len(p.Services) > 0 {
		b.WriteString("\nServices:")
		for _, s := range p.Services {
			b.WriteString("\n  - Service Name: " + s.Name)
			b.WriteString("\n    Benefits: " + s.Benefits)
		}
	}

	if len(p.Contact) > 0 {
		b.WriteString("\nContact Information:")
		keys := make([]string, 0, len(p.Contact))
		for k := range p.Contact {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString("\n  - " + k + ": " + p.Contact[k])
		}
	}

	return b.String()
}
