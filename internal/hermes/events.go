package hermes

import "time"

// MatchRequestEvent asks for a matching run over NATS.
type MatchRequestEvent struct {
	StudentID        string   `json:"student_id"`
	ExamID           string   `json:"exam_id"`
	Emergency        bool     `json:"emergency,omitempty"`
	ExcludeScribeIDs []string `json:"exclude_scribe_ids,omitempty"`
	Source           string   `json:"source,omitempty"`
}

// MatchResponseEvent carries a scribe's answer to a proposal.
type MatchResponseEvent struct {
	AttemptID string `json:"attempt_id"`
	Accept    bool   `json:"accept"`
}

type MatchProposedEvent struct {
	ExamID       string   `json:"exam_id"`
	StudentID    string   `json:"student_id"`
	AttemptIDs   []string `json:"attempt_ids"`
	ScribeIDs    []string `json:"scribe_ids"`
	TopScore     int      `json:"top_score"`
	Alternatives int      `json:"alternatives"`
	Emergency    bool     `json:"emergency,omitempty"`
}

type MatchUnmatchedEvent struct {
	ExamID           string `json:"exam_id"`
	StudentID        string `json:"student_id"`
	Reason           string `json:"reason"`
	WaitlistPosition *int   `json:"waitlist_position,omitempty"`
}

type AttemptStatusEvent struct {
	AttemptID string `json:"attempt_id"`
	ExamID    string `json:"exam_id"`
	StudentID string `json:"student_id"`
	ScribeID  string `json:"scribe_id"`
	Status    string `json:"status"`
}

type StatsEvent struct {
	Proposed  int       `json:"proposed"`
	Accepted  int       `json:"accepted"`
	Declined  int       `json:"declined"`
	Expired   int       `json:"expired"`
	AvgScore  float64   `json:"avg_match_score"`
	Timestamp time.Time `json:"timestamp"`
}
