package citation

import (
	"strings"

	"github.com/helix-research/dossier/internal/upstream"
)

// SourceKind distinguishes how a source locator is turned into a link.
type SourceKind int

const (
	KindNews SourceKind = iota
	KindFinancial
	KindDocument
)

// Source is resolved citation metadata for one registry id.
type Source struct {
	ID      string
	Title   string
	Locator string
	Kind    SourceKind
	Date    string
	Page    int
}

// Registry maps citation ids to source metadata. It is built once per
// report and read-only afterwards.
type Registry map[string]Source

// Lookup returns the source for id, if registered.
func (r Registry) Lookup(id string) (Source, bool) {
	s, ok := r[id]
	return s, ok
}

// BuildRegistry converts the raw citation_registry agent log into a
// Registry. Entries missing optional fields are kept as-is; duplicate
// ids resolve last-write-wins so superseding log revisions stick.
func BuildRegistry(entries []upstream.SourceEntry) Registry {
	reg := make(Registry, len(entries))
	for _, e := range entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			continue
		}
		reg[id] = Source{
			ID:      id,
			Title:   strings.TrimSpace(e.Title),
			Locator: strings.TrimSpace(e.Locator),
			Kind:    kindOf(e.Kind, e.Locator),
			Date:    strings.TrimSpace(e.Date),
			Page:    e.PageNumber,
		}
	}
	return reg
}

// kindOf normalizes the upstream kind string. Unrecognized kinds fall
// back on the locator shape: absolute URLs link out, anything else is
// treated as an access-controlled document.
func kindOf(kind, locator string) SourceKind {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "news":
		return KindNews
	case "financial":
		return KindFinancial
	case "document", "doc", "filing":
		return KindDocument
	}
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		return KindNews
	}
	return KindDocument
}
