package citation

import (
	"fmt"
	"net/url"
	"strings"
)

// TokenSource yields the caller's bearer token for document links.
// Document locators are access-controlled server paths; the token is
// appended as a query parameter so the browser fetch authenticates.
type TokenSource interface {
	Token() (string, error)
}

// SpanKind classifies a rendered piece of narrative text.
type SpanKind int

const (
	// SpanLiteral is plain prose, including brackets that held no ids.
	SpanLiteral SpanKind = iota
	// SpanLink is a resolved citation pointing at its source.
	SpanLink
	// SpanAnnotation is muted free text inside a bracket.
	SpanAnnotation
	// SpanUnresolved marks a citation id absent from the registry.
	SpanUnresolved
)

// Span is one rendered piece of output.
type Span struct {
	Kind     SpanKind
	Text     string
	Href     string // SpanLink only
	Tooltip  string // SpanLink only
	External bool   // SpanLink: opens a new tab (news/financial)
}

// Renderer resolves parsed citation tokens against a registry and
// constructs safe links. It holds no mutable state and may be shared.
type Renderer struct {
	Registry Registry
	Tokens   TokenSource
	Prefixes string // id alphabet, DefaultPrefixes when empty
}

// RenderText scans narrative text and renders every citation bracket.
func (r *Renderer) RenderText(text string) []Span {
	var out []Span
	for _, seg := range Scan(text, r.Prefixes) {
		if seg.Token == nil {
			out = append(out, Span{Kind: SpanLiteral, Text: seg.Literal})
			continue
		}
		out = append(out, r.RenderToken(*seg.Token)...)
	}
	return out
}

// RenderToken renders one bracket. The original bracket punctuation is
// preserved around the parts so prose keeps its shape. Unknown ids
// become visible unresolved markers; they are never dropped, a claim
// must stay traceable even when its source is gone.
func (r *Renderer) RenderToken(tok Token) []Span {
	spans := []Span{{Kind: SpanLiteral, Text: "["}}
	for i, p := range tok.Parts {
		if i > 0 {
			spans = append(spans, Span{Kind: SpanLiteral, Text: ", "})
		}
		switch p.Kind {
		case PartID:
			spans = append(spans, r.renderID(p))
		default:
			spans = append(spans, Span{Kind: SpanAnnotation, Text: p.Text})
		}
	}
	spans = append(spans, Span{Kind: SpanLiteral, Text: "]"})
	return spans
}

func (r *Renderer) renderID(p Part) Span {
	src, ok := r.Registry.Lookup(p.ID)
	if !ok {
		return Span{Kind: SpanUnresolved, Text: p.ID + "?"}
	}
	// The token's own page suffix beats the registry's stored page.
	page := p.Page
	if page == 0 {
		page = src.Page
	}
	span := Span{
		Kind:    SpanLink,
		Text:    p.ID,
		Tooltip: tooltip(src, page),
	}
	switch src.Kind {
	case KindDocument:
		span.Href = documentHref(src.Locator, r.bearer(), page)
	default:
		span.Href = src.Locator
		span.External = true
	}
	return span
}

func (r *Renderer) bearer() string {
	if r.Tokens == nil {
		return ""
	}
	tok, err := r.Tokens.Token()
	if err != nil {
		return ""
	}
	return tok
}

// documentHref builds the authenticated document link: bearer token as
// a query parameter for server-relative paths, then a PDF page fragment
// for direct in-document navigation.
func documentHref(locator, bearer string, page int) string {
	href := locator
	if strings.HasPrefix(locator, "/") && bearer != "" {
		sep := "?"
		if strings.Contains(locator, "?") {
			sep = "&"
		}
		href += sep + "token=" + url.QueryEscape(bearer)
	}
	if page > 0 && isPDF(locator) {
		href += fmt.Sprintf("#page=%d", page)
	}
	return href
}

func isPDF(locator string) bool {
	path := locator
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(strings.ToLower(path), ".pdf")
}

// tooltip composes hover text: title, date, and always the page when
// known, regardless of how the link itself was built.
func tooltip(src Source, page int) string {
	var parts []string
	if src.Title != "" {
		parts = append(parts, src.Title)
	}
	if src.Date != "" {
		parts = append(parts, src.Date)
	}
	if page > 0 {
		parts = append(parts, fmt.Sprintf("page %d", page))
	}
	return strings.Join(parts, " · ")
}
