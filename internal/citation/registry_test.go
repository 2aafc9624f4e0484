package citation

import (
	"testing"

	"github.com/helix-research/dossier/internal/upstream"
)

func TestBuildRegistryLastWriteWins(t *testing.T) {
	t.Parallel()
	reg := BuildRegistry([]upstream.SourceEntry{
		{ID: "N1", Title: "Old headline", Locator: "https://news.example/old", Kind: "news"},
		{ID: "N1", Title: "Revised headline", Locator: "https://news.example/new", Kind: "news"},
	})
	src, ok := reg.Lookup("N1")
	if !ok {
		t.Fatal("N1 not registered")
	}
	if src.Title != "Revised headline" || src.Locator != "https://news.example/new" {
		t.Fatalf("expected superseding revision to win, got %#v", src)
	}
}

func TestBuildRegistrySkipsBlankIDs(t *testing.T) {
	t.Parallel()
	reg := BuildRegistry([]upstream.SourceEntry{
		{ID: "  ", Locator: "https://x/y", Kind: "news"},
		{ID: "F2", Locator: "https://fin.example/q2", Kind: "financial"},
	})
	if len(reg) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(reg))
	}
}

func TestBuildRegistryToleratesMissingOptionalFields(t *testing.T) {
	t.Parallel()
	reg := BuildRegistry([]upstream.SourceEntry{{ID: "D4", Locator: "/files/annual.pdf", Kind: "document"}})
	src, _ := reg.Lookup("D4")
	if src.Title != "" || src.Date != "" || src.Page != 0 {
		t.Fatalf("optional fields should stay zero, got %#v", src)
	}
	if src.Kind != KindDocument {
		t.Fatalf("kind = %v", src.Kind)
	}
}

func TestKindOfFallsBackOnLocatorShape(t *testing.T) {
	t.Parallel()
	if kindOf("weird", "https://example.com/a") != KindNews {
		t.Fatal("absolute URL should link out")
	}
	if kindOf("", "/files/x.pdf") != KindDocument {
		t.Fatal("relative path should be treated as a document")
	}
	if kindOf("Filing", "/files/10k.pdf") != KindDocument {
		t.Fatal("filing alias should map to document")
	}
}
