// Package suppression recognizes static-checker suppression comments in source
// lines, e.g.
//
//	x = 1  # pylint: disable=invalid-name
//	# pylint: disable=unused-import, invalid-name
//	y = f()  # type: ignore[attr-defined]
//
// A trailing comment on a code line suppresses for that line. A whole-line
// comment counts only when the suppressor opens the comment; a suppressor
// mentioned later inside another comment is not a suppression in effect.
package suppression

import (
	"fmt"
	"regexp"
	"strings"
)

// Suppressor is one configured suppression syntax.
type Suppressor struct {
	Name string
	// Hint is a literal substring every match contains, used to pre-filter with git grep.
	Hint string
	// ListKinds allows an unbracketed comma list after the prefix (pylint's disable=a,b).
	ListKinds bool

	pattern *regexp.Regexp
}

// NewSuppressor compiles pattern, which is matched at the start of a comment body.
func NewSuppressor(name, pattern, hint string, listKinds bool) (Suppressor, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return Suppressor{}, fmt.Errorf("suppressor %s: %w", name, err)
	}
	if hint == "" {
		hint = name
	}
	return Suppressor{Name: name, Hint: hint, ListKinds: listKinds, pattern: re}, nil
}

// MustSuppressor is NewSuppressor for patterns known to compile.
func MustSuppressor(name, pattern, hint string, listKinds bool) Suppressor {
	s, err := NewSuppressor(name, pattern, hint, listKinds)
	if err != nil {
		panic(err)
	}
	return s
}

// Pylint and Mypy are the suppressors used when none are configured.
var (
	Pylint = MustSuppressor("pylint", `pylint:\s*disable\s*=\s*`, "pylint", true)
	Mypy   = MustSuppressor("mypy", `type:\s*ignore\b`, "ignore", false)
)

// Marker is one suppressed kind of one suppression comment. Text is the formatted
// comment and the identity key across commits; Kind is empty when the comment names
// no kind (a bare "type: ignore").
type Marker struct {
	Suppressor string `json:"suppressor,omitempty"`
	Text       string `json:"text"`
	Kind       string `json:"kind,omitempty"`
}

// Same reports whether two markers denote the same suppression. Markers naming a
// kind match on suppressor and kind, so an in-line edit of a sibling kind keeps the
// match; bare markers match on text.
func (m Marker) Same(o Marker) bool {
	if m.Suppressor != o.Suppressor || m.Kind != o.Kind {
		return false
	}
	if m.Kind != "" {
		return true
	}
	return m.Text == o.Text
}

// WarningTypeLine pairs one suppression comment with the line it occupies.
type WarningTypeLine struct {
	Suppressor string
	Text       string
	Kinds      []string
	Line       int
}

// Markers splits the comment into one marker per kind.
func (w WarningTypeLine) Markers() []Marker {
	if len(w.Kinds) == 0 {
		return []Marker{{Suppressor: w.Suppressor, Text: w.Text}}
	}
	out := make([]Marker, 0, len(w.Kinds))
	for _, k := range w.Kinds {
		out = append(out, Marker{Suppressor: w.Suppressor, Text: w.Text, Kind: k})
	}
	return out
}

// Extractor finds suppressions in source lines of one comment syntax.
type Extractor struct {
	comment     string
	suppressors []Suppressor
}

// NewExtractor creates an extractor for the comment introducer (e.g. "#").
func NewExtractor(comment string, suppressors []Suppressor) *Extractor {
	if comment == "" {
		comment = "#"
	}
	if len(suppressors) == 0 {
		suppressors = []Suppressor{Pylint, Mypy}
	}
	return &Extractor{comment: comment, suppressors: suppressors}
}

// Suppressors returns the configured suppressors.
func (e *Extractor) Suppressors() []Suppressor {
	return e.suppressors
}

// Extract returns every marker on line, one per suppressed kind.
func (e *Extractor) Extract(line string) []Marker {
	var out []Marker
	for _, w := range e.ExtractLine(line, 0) {
		out = append(out, w.Markers()...)
	}
	return out
}

// ExtractLine returns the suppression comments on line, tagged with lineNo.
func (e *Extractor) ExtractLine(line string, lineNo int) []WarningTypeLine {
	segments := strings.Split(line, e.comment)
	if len(segments) < 2 {
		return nil
	}

	last := len(segments) - 1
	if strings.TrimSpace(segments[0]) == "" {
		// whole-line comment: only its opening comment can be a suppression
		last = 1
	}

	var out []WarningTypeLine
	for _, seg := range segments[1 : last+1] {
		body := strings.TrimSpace(seg)
		for _, s := range e.suppressors {
			loc := s.pattern.FindStringIndex(body)
			if loc == nil {
				continue
			}
			out = append(out, WarningTypeLine{
				Suppressor: s.Name,
				Text:       e.comment + " " + body,
				Kinds:      parseKinds(body[loc[1]:], s.ListKinds),
				Line:       lineNo,
			})
			break
		}
	}
	return out
}

// Strip removes the suppression comment carrying m from line. A line left with
// only whitespace becomes empty so line numbering is unchanged.
func (e *Extractor) Strip(line string, m Marker) (string, bool) {
	segments := strings.Split(line, e.comment)
	for i := 1; i < len(segments); i++ {
		if e.comment+" "+strings.TrimSpace(segments[i]) != m.Text {
			continue
		}
		kept := append(append([]string(nil), segments[:i]...), segments[i+1:]...)
		out := strings.TrimRight(strings.Join(kept, e.comment), " \t")
		if strings.TrimSpace(out) == "" {
			out = ""
		}
		return out, true
	}
	return line, false
}

// parseKinds reads "[a, b]", "(a, b)" or, when list is set, "a, b" after a prefix.
func parseKinds(rest string, list bool) []string {
	rest = strings.TrimLeft(rest, " \t")
	if rest == "" {
		return nil
	}

	var inner string
	switch rest[0] {
	case '[', '(':
		closer := "]"
		if rest[0] == '(' {
			closer = ")"
		}
		inner = rest[1:]
		if idx := strings.Index(inner, closer); idx >= 0 {
			inner = inner[:idx]
		}
	default:
		if !list {
			return nil
		}
		inner = rest
	}

	var kinds []string
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		if idx := strings.IndexAny(part, " \t"); idx >= 0 {
			part = part[:idx]
		}
		if part != "" {
			kinds = append(kinds, part)
		}
	}
	return kinds
}
