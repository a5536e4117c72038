package search

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a search job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusRunning
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusFailed
	default:
		return false
	}
}

// Progress is the liveness snapshot the orchestrator writes while a job runs.
type Progress struct {
	CurrentCity        string `json:"current_city"`
	CityIndex          int    `json:"city_index"`
	TotalCities        int    `json:"total_cities"`
	CurrentResultCount int    `json:"current_result_count"`
	TargetResultCount  int    `json:"target_result_count"`
	Percentage         int    `json:"percentage"`
}

// Place is one deduplicated provider result. Places are immutable once appended.
type Place struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Phone       *string  `json:"phone"`
	Rating      *float64 `json:"rating"`
	ReviewCount *int     `json:"review_count"`
	Category    *string  `json:"category"`
	Website     *string  `json:"website"`
	ExternalID  *string  `json:"external_id"`
	Position    int      `json:"position"`
}

// DedupKey returns the identity used to treat two results as the same place.
func (p Place) DedupKey() string {
	if p.ExternalID != nil && *p.ExternalID != "" {
		return "id:" + *p.ExternalID
	}
	return "na:" + p.Name + "-" + p.Address
}

// HasPhone reports whether the place carries a non-blank phone number.
func (p Place) HasPhone() bool {
	return p.Phone != nil && *p.Phone != ""
}

// Job is the durable record for one submitted search.
type Job struct {
	ID            string     `json:"id"`
	Owner         string     `json:"owner"`
	Query         string     `json:"query"`
	LocationScope *string    `json:"location_scope"`
	ResultCap     int        `json:"result_cap"`
	Status        JobStatus  `json:"status"`
	Progress      Progress   `json:"progress"`
	Results       []Place    `json:"results"`
	TotalFound    int        `json:"total_found"`
	ErrorMessage  *string    `json:"error_message"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at"`
}

// Location returns the location text or "" when absent.
func (j Job) Location() string {
	if j.LocationScope == nil {
		return ""
	}
	return *j.LocationScope
}

// Clone returns a deep copy safe to hand to readers.
func (j Job) Clone() Job {
	cp := j
	if j.Results != nil {
		cp.Results = make([]Place, len(j.Results))
		copy(cp.Results, j.Results)
	}
	cp.LocationScope = cloneString(j.LocationScope)
	cp.ErrorMessage = cloneString(j.ErrorMessage)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	return cp
}

// SubmitRequest carries the caller-supplied fields of a new job.
type SubmitRequest struct {
	Owner         string  `json:"owner" validate:"required,notblank,max=128"`
	Query         string  `json:"query" validate:"required,notblank,max=512"`
	LocationScope *string `json:"location_scope,omitempty" validate:"omitempty,max=256"`
	ResultCap     int     `json:"result_cap" validate:"gte=0"`
}

// PageRequest is one provider page fetch.
type PageRequest struct {
	SearchText string
	PageSize   int
	PageNumber int
}

// RawPlace mirrors one provider result before dedup.
type RawPlace struct {
	Title       string   `json:"title"`
	Address     string   `json:"address"`
	PhoneNumber *string  `json:"phoneNumber,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	RatingCount *int     `json:"ratingCount,omitempty"`
	Category    *string  `json:"category,omitempty"`
	Website     *string  `json:"website,omitempty"`
	CID         *string  `json:"cid,omitempty"`
}

// ToPlace converts a raw provider row into a Place without a position.
// Line breaks in text fields are normalized to "\n".
func (r RawPlace) ToPlace() Place {
	return Place{
		Name:        NormalizeLineBreaks(r.Title),
		Address:     NormalizeLineBreaks(r.Address),
		Phone:       nonBlank(r.PhoneNumber),
		Rating:      r.Rating,
		ReviewCount: r.RatingCount,
		Category:    nonBlank(r.Category),
		Website:     nonBlank(r.Website),
		ExternalID:  nonBlank(r.CID),
	}
}

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// NormalizeLineBreaks rewrites CRLF and lone CR as LF.
func NormalizeLineBreaks(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	return lineBreaks.Replace(s)
}

// PageResponse is the decoded provider page.
type PageResponse struct {
	Places []RawPlace `json:"places"`
}

// QueueItem wraps a job id ready to run.
type QueueItem struct {
	JobID     string
	Submitted int64
}

func nonBlank(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := NormalizeLineBreaks(*s)
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
