package citation

import (
	"reflect"
	"strings"
	"testing"
)

func TestScanSplitsLiteralsAndTokens(t *testing.T) {
	t.Parallel()
	segs := Scan("Revenue grew [N1].", "")
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d: %#v", len(segs), segs)
	}
	if segs[0].Literal != "Revenue grew " {
		t.Fatalf("leading literal = %q", segs[0].Literal)
	}
	if segs[1].Token == nil || !reflect.DeepEqual(segs[1].Token.IDs(), []string{"N1"}) {
		t.Fatalf("expected token N1, got %#v", segs[1])
	}
	if segs[2].Literal != "." {
		t.Fatalf("trailing literal = %q", segs[2].Literal)
	}
}

func TestParseBracketSiblingPageToken(t *testing.T) {
	t.Parallel()
	tok := ParseBracket("[D3, Page 12]", "")
	if len(tok.Parts) != 1 {
		t.Fatalf("expected page token folded into id, got %#v", tok.Parts)
	}
	p := tok.Parts[0]
	if p.Kind != PartID || p.ID != "D3" || p.Page != 12 {
		t.Fatalf("got %#v", p)
	}
}

func TestParseBracketPageVariants(t *testing.T) {
	t.Parallel()
	cases := []string{
		"[D3, Page 12]",
		"[D3,Page 12]",
		"[ D3 , page 12 ]",
		"[D3, 12]",
		"[D3 Page 12]",
		"[D3, pg 12]",
	}
	for _, raw := range cases {
		tok := ParseBracket(raw, "")
		if !tok.HasID() {
			t.Fatalf("%s: no id parsed", raw)
		}
		p := tok.Parts[0]
		if p.ID != "D3" || p.Page != 12 {
			t.Fatalf("%s: got id=%s page=%d", raw, p.ID, p.Page)
		}
	}
}

func TestParseBracketInlineSuffixBeatsSibling(t *testing.T) {
	t.Parallel()
	tok := ParseBracket("[D3 Page 5, Page 12]", "")
	if tok.Parts[0].Page != 5 {
		t.Fatalf("inline suffix should win, got page %d", tok.Parts[0].Page)
	}
}

func TestParseBracketAnnotations(t *testing.T) {
	t.Parallel()
	tok := ParseBracket("[N1, emphasis added]", "")
	if len(tok.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %#v", tok.Parts)
	}
	if tok.Parts[0].ID != "N1" {
		t.Fatalf("got %#v", tok.Parts[0])
	}
	if tok.Parts[1].Kind != PartAnnotation || tok.Parts[1].Text != "emphasis added" {
		t.Fatalf("got %#v", tok.Parts[1])
	}
}

func TestParseBracketLongNumericIsAnnotation(t *testing.T) {
	t.Parallel()
	tok := ParseBracket("[D1, 12345]", "")
	if tok.Parts[0].Page != 0 {
		t.Fatalf("five-digit token should not be a page, got %d", tok.Parts[0].Page)
	}
	if tok.Parts[1].Kind != PartAnnotation {
		t.Fatalf("got %#v", tok.Parts[1])
	}
}

func TestScanBracketWithoutIDsStaysLiteral(t *testing.T) {
	t.Parallel()
	segs := Scan("as noted [see above] earlier", "")
	if len(segs) != 1 {
		t.Fatalf("expected one merged literal, got %#v", segs)
	}
	if segs[0].Literal != "as noted [see above] earlier" {
		t.Fatalf("literal = %q", segs[0].Literal)
	}
}

func TestScanUnclosedBracket(t *testing.T) {
	t.Parallel()
	segs := Scan("dangling [D3", "")
	if len(segs) != 1 || segs[0].Literal != "dangling [D3" {
		t.Fatalf("got %#v", segs)
	}
}

func TestScanIsRestartable(t *testing.T) {
	t.Parallel()
	text := "Growth [N1] and risk [D2, Page 7], plus [note] text."
	first := Scan(text, "")
	second := Scan(text, "")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated scans differ:\n%#v\n%#v", first, second)
	}
	// Reassembling raws and literals must reproduce the input.
	var b strings.Builder
	for _, seg := range first {
		if seg.Token != nil {
			b.WriteString(seg.Token.Raw)
		} else {
			b.WriteString(seg.Literal)
		}
	}
	if b.String() != text {
		t.Fatalf("reassembled %q, want %q", b.String(), text)
	}
}

func TestMatchIDRejections(t *testing.T) {
	t.Parallel()
	for _, sub := range []string{"X3", "D", "D3x", "", "3D"} {
		if _, _, ok := matchID(sub, DefaultPrefixes); ok {
			t.Fatalf("%q should not match the id pattern", sub)
		}
	}
}

func TestScanMultipleIDsInOneBracket(t *testing.T) {
	t.Parallel()
	tok := ParseBracket("[N1, F2, D3]", "")
	if got := tok.IDs(); !reflect.DeepEqual(got, []string{"N1", "F2", "D3"}) {
		t.Fatalf("ids = %v", got)
	}
}
