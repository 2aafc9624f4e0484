package citation

import "strings"

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\"", "&quot;", "'", "&#39;")

func escape(s string) string { return htmlEscaper.Replace(s) }

// HTML renders narrative text to an HTML fragment with citations turned
// into links. All text and attribute values are escaped; locators are
// emitted as constructed, never interpolated into markup unescaped.
func (r *Renderer) HTML(text string) string {
	var b strings.Builder
	for _, span := range r.RenderText(text) {
		writeSpan(&b, span)
	}
	return b.String()
}

func writeSpan(b *strings.Builder, span Span) {
	switch span.Kind {
	case SpanLink:
		b.WriteString(`<a class="citation" href="` + escape(span.Href) + `"`)
		if span.Tooltip != "" {
			b.WriteString(` title="` + escape(span.Tooltip) + `"`)
		}
		if span.External {
			b.WriteString(` target="_blank" rel="noopener"`)
		}
		b.WriteString(">" + escape(span.Text) + "</a>")
	case SpanAnnotation:
		b.WriteString(`<span class="citation-note">` + escape(span.Text) + "</span>")
	case SpanUnresolved:
		b.WriteString(`<span class="citation-unresolved" title="source not in registry">` + escape(span.Text) + "</span>")
	default:
		b.WriteString(escape(span.Text))
	}
}
