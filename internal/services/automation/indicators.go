package automation

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/sheetporter/internal/common"
)

// textMarkerPrefix marks an indicator that matches visible page text instead of a selector
const textMarkerPrefix = "text="

// Snapshot is a parsed copy of the page DOM used for indicator checks
type Snapshot struct {
	doc  *goquery.Document
	text string
}

// NewSnapshot parses html captured from the browser
func NewSnapshot(html string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	body := doc.Find("body")
	// Script and style contents are not visible text
	body.Find("script, style, noscript").Remove()
	return &Snapshot{
		doc:  doc,
		text: strings.ToLower(strings.Join(strings.Fields(body.Text()), " ")),
	}, nil
}

// Matches reports whether one indicator is present. "text=" indicators match the
// visible body text case-insensitively; all others are CSS selectors.
func (s *Snapshot) Matches(indicator string) bool {
	if needle, ok := strings.CutPrefix(indicator, textMarkerPrefix); ok {
		needle = strings.ToLower(strings.TrimSpace(needle))
		return needle != "" && strings.Contains(s.text, needle)
	}
	// Selectors goquery cannot compile match nothing
	return s.doc.Find(indicator).Length() > 0
}

// FirstMatch returns the first indicator, in order, that is present
func (s *Snapshot) FirstMatch(indicators []string) (string, bool) {
	return common.FirstSatisfying(indicators, s.Matches)
}
