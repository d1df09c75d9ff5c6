// Package document defines the fixed report template shared by every room
// and the serialized snapshot format persisted to the document store.
package document

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SnapshotVersion is the schema marker written into every persisted
// snapshot. Snapshots carrying a different version are treated as absent.
const SnapshotVersion = 1

// sectionOrder is the template order; it is fixed at room creation and
// never changes for the life of a document.
var sectionOrder = []string{
	"abstract",
	"introduction",
	"methodology",
	"results",
	"conclusion",
	"references",
}

var sectionTitles = map[string]string{
	"abstract":     "Abstract",
	"introduction": "Introduction",
	"methodology":  "Methodology",
	"results":      "Results",
	"conclusion":   "Conclusion",
	"references":   "References",
}

// SectionNames returns the template's section names in template order.
func SectionNames() []string {
	names := make([]string, len(sectionOrder))
	copy(names, sectionOrder)
	return names
}

// Title returns the display title for a section name.
func Title(section string) string {
	if t, ok := sectionTitles[section]; ok {
		return t
	}
	return section
}

// ValidSection reports whether section is one of the fixed template names.
func ValidSection(section string) bool {
	_, ok := sectionTitles[section]
	return ok
}

// NewSections returns a fresh, empty section mapping.
func NewSections() map[string]string {
	sections := make(map[string]string, len(sectionOrder))
	for _, name := range sectionOrder {
		sections[name] = ""
	}
	return sections
}

// Snapshot is the persisted form of a room's document.
type Snapshot struct {
	Version  int               `json:"version"`
	Sections map[string]string `json:"sections"`
	SavedAt  int64             `json:"saved_at"`
}

// EncodeSnapshot serializes a section mapping for the document store.
func EncodeSnapshot(sections map[string]string) ([]byte, error) {
	snap := Snapshot{
		Version:  SnapshotVersion,
		Sections: sections,
		SavedAt:  time.Now().Unix(),
	}
	return json.Marshal(snap)
}

// DecodeSnapshot parses a persisted snapshot. Unknown versions and unknown
// section names are rejected so a room never hydrates from a document this
// build does not understand.
func DecodeSnapshot(data []byte) (map[string]string, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("decode snapshot: unsupported version %d", snap.Version)
	}
	sections := NewSections()
	for name, value := range snap.Sections {
		if !ValidSection(name) {
			return nil, fmt.Errorf("decode snapshot: unknown section %q", name)
		}
		sections[name] = value
	}
	return sections, nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripTags removes HTML markup from a section value, leaving plain text
// for export rendering and summarization input.
func StripTags(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	return strings.TrimSpace(s)
}
