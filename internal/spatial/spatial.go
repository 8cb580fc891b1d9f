// Package spatial pairs text labels with the checkbox marks printed next to
// them on a scanned form.
//
// The rule is layout specific: a label's checkbox is the nearest mark whose
// centroid lies strictly to the right of the label's centroid. This holds for
// the right-to-left accident report form it was written for and is not a
// general form-understanding algorithm.
package spatial

import "math"

// Point is a page coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is a bounding region given by its corner points.
type Polygon []Point

// Centroid returns the arithmetic mean of the corner points. ok is false for
// an empty polygon.
func Centroid(p Polygon) (c Point, ok bool) {
	if len(p) == 0 {
		return Point{}, false
	}
	for _, pt := range p {
		c.X += pt.X
		c.Y += pt.Y
	}
	n := float64(len(p))
	return Point{X: c.X / n, Y: c.Y / n}, true
}

// Distance is the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Label is a line of form text that names a checkbox option.
type Label struct {
	Content string  `json:"content"`
	Polygon Polygon `json:"position"`
}

// Mark is a detected checkbox.
type Mark struct {
	// State is "selected" or "unselected".
	State   string  `json:"state"`
	Polygon Polygon `json:"position"`
}

// Pairing is a label with the state of its matched mark. State is nil when
// no mark lies to the right of the label.
type Pairing struct {
	Label string  `json:"line_content"`
	State *string `json:"matched_mark_state"`
}

// Match pairs every label with its nearest mark to the right, in label
// order. Equal distances keep the first mark found. Marks may be matched by
// more than one label.
func Match(labels []Label, marks []Mark) []Pairing {
	type located struct {
		state  string
		center Point
	}
	centers := make([]located, 0, len(marks))
	for _, m := range marks {
		if c, ok := Centroid(m.Polygon); ok {
			centers = append(centers, located{state: m.State, center: c})
		}
	}

	out := make([]Pairing, 0, len(labels))
	for _, l := range labels {
		p := Pairing{Label: l.Content}
		lc, ok := Centroid(l.Polygon)
		if ok {
			best := math.Inf(1)
			for i := range centers {
				m := &centers[i]
				if m.center.X <= lc.X {
					continue
				}
				if d := Distance(lc, m.center); d < best {
					best = d
					state := m.state
					p.State = &state
				}
			}
		}
		out = append(out, p)
	}
	return out
}
