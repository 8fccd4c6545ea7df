package hermes

const (
	SubjectMatchRequest  = "scribe.match.request"
	SubjectMatchResponse = "scribe.match.response"
	SubjectMatchStats    = "scribe.match.stats"

	StreamName     = "SCRIBEMATCH_EVENTS"
	StreamSubjects = "scribe.match.>"
	StreamMaxAge   = "720h" // 30 days
)

func SubjectMatchProposed(examID string) string  { return "scribe.match." + examID + ".proposed" }
func SubjectMatchUnmatched(examID string) string { return "scribe.match." + examID + ".unmatched" }
func SubjectMatchEmergency(examID string) string { return "scribe.match." + examID + ".emergency" }

// Per-attempt lifecycle subjects
func SubjectAttemptAccepted(attemptID string) string { return "scribe.match." + attemptID + ".accepted" }
func SubjectAttemptDeclined(attemptID string) string { return "scribe.match." + attemptID + ".declined" }
func SubjectAttemptExpired(attemptID string) string  { return "scribe.match." + attemptID + ".expired" }
