package knowledge

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Canonical tags and their display values, in output order.
var (
	hmoOrder  = []string{"maccabi", "meuhedet", "clalit"}
	tierOrder = []string{"gold", "silver", "bronze"}

	hmoHebrew  = map[string]string{"maccabi": "מכבי", "meuhedet": "מאוחדת", "clalit": "כללית"}
	tierHebrew = map[string]string{"gold": "זהב", "silver": "כסף", "bronze": "ארד"}
)

var (
	tierRes = map[string]*regexp.Regexp{
		"gold":   regexp.MustCompile(`(?s)זהב:(.*?)(?:זהב:|כסף:|ארד:|$)`),
		"silver": regexp.MustCompile(`(?s)כסף:(.*?)(?:זהב:|כסף:|ארד:|$)`),
		"bronze": regexp.MustCompile(`(?s)ארד:(.*?)(?:זהב:|כסף:|ארד:|$)`),
	}
	phoneRe = regexp.MustCompile(`טלפון:(.*?)(?:\n|$)`)
)

const (
	phoneSectionMarker = "מספרי טלפון"
	moreInfoHeading    = "לפרטים נוספים"
)

// ServiceRow is one table row: a service and its benefits per HMO and tier.
// A missing entry means the cell had no text for that tier.
type ServiceRow struct {
	Name     string
	Benefits map[string]map[string]string
}

// MoreInfo is the phone and website listed for one HMO.
type MoreInfo struct {
	Phone       string
	Website     string
	WebsiteText string
}

// Page is the structured content of one knowledge-base HTML page.
type Page struct {
	Category    string
	Description string
	Services    []ServiceRow
	// Contacts maps an h3 heading to the per-HMO entry in the list that
	// follows it.
	Contacts map[string]map[string]string
	// MoreInfo is keyed by HMO tag.
	MoreInfo map[string]MoreInfo
}

// ParsePage parses a knowledge-base page: an h2 category, description
// paragraphs up to the services table, the table itself (service name then
// one column per HMO with "זהב: ... כסף: ... ארד: ..." cells), and h3
// sections listing per-HMO contact details.
func ParsePage(r io.Reader) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("knowledge: parsing html: %w", err)
	}
	nodes := preorder(doc)

	h2 := findFirst(nodes, 0, atom.H2)
	if h2 < 0 {
		return nil, fmt.Errorf("knowledge: page has no h2 category heading")
	}
	p := &Page{
		Category: textOf(nodes[h2]),
		Contacts: map[string]map[string]string{},
		MoreInfo: map[string]MoreInfo{},
	}

	var desc []string
	for s := nodes[h2].NextSibling; s != nil; s = s.NextSibling {
		if s.Type != html.ElementNode {
			continue
		}
		if s.DataAtom == atom.Table {
			break
		}
		if s.DataAtom == atom.P {
			desc = append(desc, textOf(s))
		}
	}
	p.Description = strings.Join(desc, " ")

	if t := findFirst(nodes, 0, atom.Table); t >= 0 {
		p.Services = parseTable(nodes[t])
	}

	for i, n := range nodes {
		if n.DataAtom != atom.H3 {
			continue
		}
		heading := textOf(n)
		ul := findFirst(nodes, i+1, atom.Ul)
		if ul < 0 {
			continue
		}
		items := descendants(nodes[ul], atom.Li)

		section := map[string]string{}
		for _, li := range items {
			text := textOf(li)
			if hmo, ok := hmoMentioned(text); ok {
				section[hmo] = strings.TrimSpace(strings.Replace(text, hmoHebrew[hmo]+":", "", 1))
			}
		}
		if len(section) > 0 {
			p.Contacts[heading] = section
		}

		if strings.Contains(heading, moreInfoHeading) {
			for _, li := range items {
				if hmo, ok := hmoMentioned(textOf(li)); ok {
					p.MoreInfo[hmo] = parseMoreInfo(li)
				}
			}
		}
	}
	return p, nil
}

func parseTable(table *html.Node) []ServiceRow {
	rows := descendants(table, atom.Tr)
	if len(rows) > 0 {
		rows = rows[1:]
	}
	var out []ServiceRow
	for _, tr := range rows {
		cells := descendants(tr, atom.Td)
		if len(cells) < 1+len(hmoOrder) {
			continue
		}
		row := ServiceRow{Name: textOf(cells[0]), Benefits: map[string]map[string]string{}}
		for i, hmo := range hmoOrder {
			row.Benefits[hmo] = parseTierCell(textOf(cells[i+1]))
		}
		out = append(out, row)
	}
	return out
}

// parseTierCell splits "זהב: a כסף: b ארד: c" into tier tags.
func parseTierCell(text string) map[string]string {
	out := map[string]string{}
	for _, tier := range tierOrder {
		if m := tierRes[tier].FindStringSubmatch(text); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				out[tier] = v
			}
		}
	}
	return out
}

func parseMoreInfo(li *html.Node) MoreInfo {
	var info MoreInfo
	if m := phoneRe.FindStringSubmatch(textOf(li)); m != nil {
		info.Phone = strings.TrimSpace(m[1])
	}
	if a := descendants(li, atom.A); len(a) > 0 {
		info.Website = attr(a[0], "href")
		info.WebsiteText = textOf(a[0])
	}
	return info
}

// hmoMentioned returns the first HMO whose display name appears in text.
func hmoMentioned(text string) (string, bool) {
	for _, hmo := range hmoOrder {
		if strings.Contains(text, hmoHebrew[hmo]) {
			return hmo, true
		}
	}
	return "", false
}

// preorder lists every element node in document order.
func preorder(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func findFirst(nodes []*html.Node, from int, a atom.Atom) int {
	for i := from; i < len(nodes); i++ {
		if nodes[i].DataAtom == a {
			return i
		}
	}
	return -1
}

func descendants(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	for _, d := range preorder(n) {
		if d != n && d.DataAtom == a {
			out = append(out, d)
		}
	}
	return out
}

// textOf concatenates the text content of n, trimmed.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
