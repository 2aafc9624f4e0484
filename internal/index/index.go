// Package index provides full-text search over fetched reports.
package index

import (
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/helix-research/dossier/internal/upstream"
)

type SearchHit struct {
	ReportID  string   `json:"report_id"`
	CompanyID string   `json:"company_id"`
	Topic     string   `json:"topic"`
	Score     float64  `json:"score"`
	Snippets  []string `json:"snippets,omitempty"`
}

type indexDoc struct {
	CompanyID string `json:"company_id"`
	Topic     string `json:"topic"`
	Summary   string `json:"summary"`
	Findings  string `json:"findings"`
	Verdict   string `json:"verdict"`
}

// ReportIndex holds an in-memory bleve index over report text.
type ReportIndex struct {
	bleve bleve.Index
	meta  map[string]indexDoc
	mu    sync.RWMutex
}

func New() (*ReportIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &ReportIndex{bleve: idx, meta: map[string]indexDoc{}}, nil
}

// Add indexes a report, replacing any previous version with the same ID.
func (ri *ReportIndex) Add(rep upstream.Report) error {
	doc := indexDoc{
		CompanyID: rep.CompanyID,
		Topic:     rep.Topic,
		Summary:   rep.Summary,
		Findings:  rep.Findings,
		Verdict:   rep.Verdict,
	}
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.meta[rep.ID] = doc
	return ri.bleve.Index(rep.ID, doc)
}

func (ri *ReportIndex) Remove(reportID string) error {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	delete(ri.meta, reportID)
	return ri.bleve.Delete(reportID)
}

// Search runs a query-string search and returns up to k hits with
// HTML-highlighted snippets.
func (ri *ReportIndex) Search(q string, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k, 0, false)
	searchReq.Highlight = bleve.NewHighlightWithStyle("html")

	ri.mu.RLock()
	defer ri.mu.RUnlock()
	res, err := ri.bleve.Search(searchReq)
	if err != nil {
		return nil, err
	}
	var out []SearchHit
	for _, hit := range res.Hits {
		doc := ri.meta[hit.ID]
		h := SearchHit{
			ReportID:  hit.ID,
			CompanyID: doc.CompanyID,
			Topic:     doc.Topic,
			Score:     hit.Score,
		}
		for _, frags := range hit.Fragments {
			h.Snippets = append(h.Snippets, frags...)
		}
		out = append(out, h)
	}
	return out, nil
}
