package server

import "time"

// HTTPError mirrors the unified JSON error body.
type HTTPError struct {
	Error string `json:"error"`
}

type AnalyzeRequest struct {
	Topic   string `json:"topic"`
	Persona string `json:"persona"`
}

type JobResponse struct {
	CompanyID string `json:"company_id"`
	Phase     string `json:"phase"`
	Status    string `json:"status,omitempty"`
	Step      int    `json:"step"`
	StepLabel string `json:"step_label"`
	Progress  int    `json:"progress"`
	ReportID  string `json:"report_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ReportListItem struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Topic     string    `json:"topic"`
	Summary   string    `json:"summary"`
	Verdict   string    `json:"verdict,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Cached    bool      `json:"cached"`
}

type streamPayload struct {
	GeneratedAt time.Time   `json:"generated_at"`
	Job         JobResponse `json:"job"`
}
