package citation

import (
	"strconv"
	"strings"
)

// DefaultPrefixes is the recognized citation id alphabet: news,
// financial and document sources.
const DefaultPrefixes = "NFD"

// PartKind classifies one comma-separated piece of a citation bracket.
type PartKind int

const (
	// PartID is a source reference like D3, optionally carrying a page.
	PartID PartKind = iota
	// PartAnnotation is free text rendered muted, never linked.
	PartAnnotation
)

// Part is one classified piece of a bracket.
type Part struct {
	Kind PartKind
	ID   string // set for PartID
	Page int    // set for PartID when a page suffix was found, 0 otherwise
	Text string // set for PartAnnotation
}

// Token is one parsed citation bracket.
type Token struct {
	Raw   string // the full bracket text, brackets included
	Parts []Part
}

// HasID reports whether the bracket contained at least one source reference.
func (t Token) HasID() bool {
	for _, p := range t.Parts {
		if p.Kind == PartID {
			return true
		}
	}
	return false
}

// IDs returns the source ids referenced by the token, in order.
func (t Token) IDs() []string {
	var out []string
	for _, p := range t.Parts {
		if p.Kind == PartID {
			out = append(out, p.ID)
		}
	}
	return out
}

// Segment is either a literal run of text or a citation token. Exactly
// one of the two fields is populated.
type Segment struct {
	Literal string
	Token   *Token
}

// Scan splits text into literal segments and citation tokens. A bracket
// is `[` up to the first `]`; brackets with no recognizable id parts are
// returned as literals so surrounding prose never breaks. Scanning the
// same text twice yields identical results.
func Scan(text, prefixes string) []Segment {
	if prefixes == "" {
		prefixes = DefaultPrefixes
	}
	var segs []Segment
	emitLiteral := func(s string) {
		if s == "" {
			return
		}
		// Merge adjacent literals so output shape is stable.
		if n := len(segs); n > 0 && segs[n-1].Token == nil {
			segs[n-1].Literal += s
			return
		}
		segs = append(segs, Segment{Literal: s})
	}

	rest := text
	for {
		open := strings.IndexByte(rest, '[')
		if open < 0 {
			emitLiteral(rest)
			return segs
		}
		end := strings.IndexByte(rest[open:], ']')
		if end < 0 {
			emitLiteral(rest)
			return segs
		}
		end += open
		emitLiteral(rest[:open])
		raw := rest[open : end+1]
		tok := ParseBracket(raw, prefixes)
		if tok.HasID() {
			t := tok
			segs = append(segs, Segment{Token: &t})
		} else {
			emitLiteral(raw)
		}
		rest = rest[end+1:]
	}
}

// ParseBracket decomposes a single bracket expression. raw must include
// the surrounding brackets.
func ParseBracket(raw, prefixes string) Token {
	if prefixes == "" {
		prefixes = DefaultPrefixes
	}
	content := strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
	tok := Token{Raw: raw}
	lastID := -1
	for _, sub := range strings.Split(content, ",") {
		sub = strings.TrimSpace(sub)
		if sub == "" {
			continue
		}
		if id, trail, ok := matchID(sub, prefixes); ok {
			p := Part{Kind: PartID, ID: id}
			if pg, ok := pageFromSuffix(trail); ok {
				p.Page = pg
			}
			tok.Parts = append(tok.Parts, p)
			lastID = len(tok.Parts) - 1
			continue
		}
		if pg, ok := pageToken(sub); ok && lastID >= 0 && tok.Parts[lastID].Page == 0 {
			// Sibling page token attaches to the preceding id. An inline
			// suffix already on that id wins.
			tok.Parts[lastID].Page = pg
			continue
		}
		tok.Parts = append(tok.Parts, Part{Kind: PartAnnotation, Text: sub})
	}
	return tok
}

// matchID tests sub against <prefix-letter><digits><trailing text> and
// returns the id plus any trailing text.
func matchID(sub, prefixes string) (id, trail string, ok bool) {
	if sub == "" || !strings.ContainsRune(prefixes, rune(sub[0])) {
		return "", "", false
	}
	i := 1
	for i < len(sub) && sub[i] >= '0' && sub[i] <= '9' {
		i++
	}
	if i == 1 {
		return "", "", false
	}
	// Trailing text must be separated from the digits; D3x is not an id.
	trail = sub[i:]
	if trail != "" && trail[0] != ' ' && trail[0] != '\t' {
		return "", "", false
	}
	return sub[:i], strings.TrimSpace(trail), true
}

// pageFromSuffix extracts a page number from an inline id suffix such as
// "Page 12", "p. 12" or "12".
func pageFromSuffix(trail string) (int, bool) {
	if trail == "" {
		return 0, false
	}
	return pageToken(trail)
}

// pageToken recognizes a sub-token that is purely a page reference:
// the word Page plus digits, or a bare short numeric string.
func pageToken(sub string) (int, bool) {
	s := strings.ToLower(strings.TrimSpace(sub))
	for _, prefix := range []string{"page", "pg", "p."} {
		if strings.HasPrefix(s, prefix) {
			rest := strings.TrimSpace(s[len(prefix):])
			return parsePage(rest)
		}
	}
	if len(s) <= 4 {
		return parsePage(s)
	}
	return 0, false
}

func parsePage(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
