// Package collector defines core types shared across the ingestion subsystems.
package collector

import (
	"net/http"
	"time"
)

// JobName identifies a record variant and the pipeline that collects it.
type JobName string

// Job names used for metrics labels, the run ledger and CLI commands.
const (
	JobLaws       JobName = "laws"
	JobPrecedents JobName = "precedents"
)

// Response is the envelope returned by the API client for one request.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	// JSON is nil when the body was empty or not valid JSON.
	JSON any
	Text string
}

// Request names an endpoint path and the query parameters sent to it.
type Request struct {
	Path  string
	Query map[string]any
}

// Record is a normalized row ready for the upsert store.
type Record interface {
	Job() JobName
	// NaturalKey is the source-assigned serial number used as the upsert conflict target.
	NaturalKey() int64
	// Identity is the derived business identity, or "" when derivation failed.
	Identity() string
	Payload() map[string]any
}

// LawRecord is a normalized statute row.
type LawRecord struct {
	SerialNo          int64
	LawID             *string
	NameKo            string
	NameZh            *string
	Abbreviation      *string
	PromulgationNo    *int64
	PromulgationDate  *time.Time
	EnforceDate       time.Time
	IsCurrent         *string
	CategoryName      *string
	MinistryCode      *string
	MinistryName      *string
	MinistryContact   *string
	RevisionTypeName  *string
	IsSubStatute      *string
	BasicInfoXML      *string
	ArticleXML        *string
	SupplementXML     *string
	RevisionReasonXML *string
	HistoryXML        *string
	UUID              string
	RawPayload        map[string]any
}

// Job implements Record.
func (r *LawRecord) Job() JobName { return JobLaws }

// NaturalKey implements Record.
func (r *LawRecord) NaturalKey() int64 { return r.SerialNo }

// Identity implements Record.
func (r *LawRecord) Identity() string { return r.UUID }

// Payload implements Record.
func (r *LawRecord) Payload() map[string]any { return r.RawPayload }

// PrecedentRecord is a normalized court decision row.
type PrecedentRecord struct {
	SerialNo             int64
	CaseName             *string
	CaseNumber           string
	JudgmentDate         *time.Time
	CourtName            *string
	CourtCode            *string
	CaseTypeCode         *string
	CaseTypeName         *string
	JudgmentTypeCode     *string
	JudgmentTypeName     *string
	JudgmentResult       *string
	ReferencedStatutes   *string
	ReferencedPrecedents *string
	Summary              *string
	Conclusion           *string
	Reasoning            *string
	FullText             *string
	UUID                 string
	RawPayload           map[string]any
}

// Job implements Record.
func (r *PrecedentRecord) Job() JobName { return JobPrecedents }

// NaturalKey implements Record.
func (r *PrecedentRecord) NaturalKey() int64 { return r.SerialNo }

// Identity implements Record.
func (r *PrecedentRecord) Identity() string { return r.UUID }

// Payload implements Record.
func (r *PrecedentRecord) Payload() map[string]any { return r.RawPayload }

// RowMeta carries the bookkeeping columns stored next to each record.
type RowMeta struct {
	CollectionID string
	RequestURL   string
}

// RunParams captures the caller-supplied knobs for one ingestion run.
type RunParams struct {
	Query        string
	StartDate    string
	EndDate      string
	StartPage    int
	Pages        int
	PageSize     int
	CollectionID string
}

// RunStats tracks outcome counters for one run.
type RunStats struct {
	Pages      int `json:"pages"`
	Collected  int `json:"collected"`
	Duplicates int `json:"duplicates"`
	Failures   int `json:"failures"`
}

// RunStatus represents the lifecycle state of a ledger entry.
type RunStatus string

// Run status values persisted in the run ledger.
const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// RunRecord is one row of the collection run ledger.
type RunRecord struct {
	RunID        string
	Job          JobName
	CollectionID string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       RunStatus
	Stats        RunStats
	ErrorMessage *string
}

// Notification is published for every record persisted by a committed run.
type Notification struct {
	Job          JobName `json:"job"`
	CollectionID string  `json:"collection_id"`
	SerialNo     int64   `json:"serial_no"`
	UUID         string  `json:"uuid,omitempty"`
	Inserted     bool    `json:"inserted"`
	CollectedAt  string  `json:"collected_at"`
}
