package upstream

import "time"

// JobStatus is the analysis engine's job lifecycle state.
type JobStatus string

const (
	StatusPending          JobStatus = "PENDING"
	StatusGatheringIntel   JobStatus = "GATHERING_INTEL"
	StatusCrossExamination JobStatus = "CROSS_EXAMINATION"
	StatusSynthesizing     JobStatus = "SYNTHESIZING"
	StatusEmbedding        JobStatus = "EMBEDDING"
	StatusCompleted        JobStatus = "COMPLETED"
	StatusFailed           JobStatus = "FAILED"
)

// jobSteps orders the non-terminal phases for progress display.
var jobSteps = map[JobStatus]int{
	StatusPending:          0,
	StatusGatheringIntel:   1,
	StatusCrossExamination: 2,
	StatusSynthesizing:     3,
	StatusEmbedding:        4,
	StatusCompleted:        5,
}

var stepLabels = []string{
	"Queued",
	"Gathering intelligence",
	"Cross-examining sources",
	"Synthesizing verdict",
	"Indexing report",
	"Completed",
}

// StepIndex maps a status to a bounded step index. Unknown statuses map
// to the earliest non-terminal step rather than failing.
func (s JobStatus) StepIndex() int {
	if idx, ok := jobSteps[s]; ok {
		return idx
	}
	return 0
}

// Label returns the human-readable step label for the status.
func (s JobStatus) Label() string {
	if s == StatusFailed {
		return "Failed"
	}
	return stepLabels[s.StepIndex()]
}

// Terminal reports whether no further status changes can follow.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobParams are forwarded to the engine when starting an analysis.
type JobParams struct {
	Topic   string `json:"topic,omitempty"`
	Persona string `json:"persona,omitempty"`
}

// StatusSnapshot is one observation of a running job.
type StatusSnapshot struct {
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress,omitempty"`
	CurrentStep  string    `json:"current_step,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ReportID     string    `json:"report_id,omitempty"`
}

// SourceEntry is one raw citation-registry record from an agent log.
// Locator is a URL for news/financial sources and a server-relative
// path for documents.
type SourceEntry struct {
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	Locator    string `json:"locator"`
	Kind       string `json:"kind"`
	Date       string `json:"date,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`
}

// CitationRegistryAgent names the agent log entry carrying source metadata.
const CitationRegistryAgent = "citation_registry"

// AgentLog is one entry of a report's pipeline trace.
type AgentLog struct {
	Agent   string        `json:"agent"`
	Content string        `json:"content,omitempty"`
	Sources []SourceEntry `json:"sources,omitempty"`
}

// Report is a completed analysis document. The narrative fields contain
// inline citation brackets resolved against the citation_registry log.
type Report struct {
	ID        string     `json:"id"`
	CompanyID string     `json:"company_id"`
	Topic     string     `json:"topic,omitempty"`
	Summary   string     `json:"summary"`
	Findings  string     `json:"detailed_findings,omitempty"`
	Verdict   string     `json:"verdict,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	AgentLogs []AgentLog `json:"agent_logs,omitempty"`
}

// RegistrySources returns the raw source list from the citation registry
// log entry, or nil when the report carries none.
func (r Report) RegistrySources() []SourceEntry {
	for _, l := range r.AgentLogs {
		if l.Agent == CitationRegistryAgent {
			return l.Sources
		}
	}
	return nil
}
