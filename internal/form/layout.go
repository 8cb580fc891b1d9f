// Package form extracts structured fields from scanned National Insurance
// accident report forms. A page is run through the Document Intelligence
// layout model, checkbox labels are paired with their marks, the remaining
// text is cleaned, and a chat model maps the result onto the form schema.
package form

import (
	"regexp"
	"strings"

	"github.com/54b3r/hmochat-go/internal/spatial"
)

// labelPatterns identify lines that name a checkbox option. Matching lines
// are paired with marks instead of being copied into the text.
var labelPatterns = compileAll(
	"נקבה", "זכר", "במפעל", "ת. דרכים בעבודה", "ת. דרכים בדרך לעבודה/מהעבודה",
	"תאונה בדרך ללא רכב", "אחר", "הנפגע חבר בקופת חולים", "כללית", "מאוחדת",
	"מכבי", "לאומית", "הנפגע אינו חבר בקופת חולים", "מהות התאונה",
)

// genderNotice is printed on every form and contains "זכר" without being a
// checkbox label.
const genderNotice = "טופס זה מנוסח בלשון זכר אך פונה לנשים וגברים כאחד"

var (
	digitRe      = regexp.MustCompile(`\d`)
	numberJunkRe = regexp.MustCompile(`[^\p{L}\p{N}_.\-\s]`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Layout is the OCR output handed to field extraction.
type Layout struct {
	// Text holds the non-label lines, one per line. Lines containing digits
	// have punctuation and whitespace stripped.
	Text string `json:"text"`
	// SelectionMarks pairs each checkbox label with its mark state.
	SelectionMarks []spatial.Pairing `json:"selection_marks"`
}

// ExtractLayout builds a Layout from the given page of result.
func ExtractLayout(result *AnalyzeResult, pageNumber int) Layout {
	var (
		text   strings.Builder
		labels []spatial.Label
		marks  []spatial.Mark
	)
	for _, page := range result.Pages {
		if page.PageNumber != pageNumber {
			continue
		}
		for _, line := range page.Lines {
			if isLabel(line.Content) {
				if line.Content != genderNotice {
					labels = append(labels, spatial.Label{Content: line.Content, Polygon: polygon(line.Polygon)})
				}
				continue
			}
			if digitRe.MatchString(line.Content) {
				text.WriteString(CleanNumber(line.Content))
			} else {
				text.WriteString(line.Content)
			}
			text.WriteByte('\n')
		}
		for _, m := range page.SelectionMarks {
			marks = append(marks, spatial.Mark{State: m.State, Polygon: polygon(m.Polygon)})
		}
	}
	return Layout{Text: text.String(), SelectionMarks: spatial.Match(labels, marks)}
}

func isLabel(line string) bool {
	for _, re := range labelPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// CleanNumber drops punctuation other than '.' and '-' and removes all
// whitespace, so "0 5 2-123 45 67" becomes "052-1234567".
func CleanNumber(s string) string {
	s = numberJunkRe.ReplaceAllString(s, "")
	return spaceRe.ReplaceAllString(s, "")
}

// polygon converts a flat coordinate list into points. A trailing odd value
// is ignored.
func polygon(flat []float64) spatial.Polygon {
	p := make(spatial.Polygon, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		p = append(p, spatial.Point{X: flat[i], Y: flat[i+1]})
	}
	return p
}
