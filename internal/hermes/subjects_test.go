package hermes

import (
	"strings"
	"testing"
)

func TestSubjectsFallUnderStream(t *testing.T) {
	subjects := []string{
		SubjectMatchRequest, SubjectMatchResponse, SubjectMatchStats,
		SubjectMatchProposed("exam-1"), SubjectMatchUnmatched("exam-1"), SubjectMatchEmergency("exam-1"),
		SubjectAttemptAccepted("a1"), SubjectAttemptDeclined("a1"), SubjectAttemptExpired("a1"),
	}
	prefix := strings.TrimSuffix(StreamSubjects, ">")
	for _, s := range subjects {
		if !strings.HasPrefix(s, prefix) {
			t.Errorf("%s is not covered by the %s stream", s, StreamName)
		}
	}
	if got := SubjectMatchProposed("exam-42"); got != "scribe.match.exam-42.proposed" {
		t.Errorf("SubjectMatchProposed = %s", got)
	}
}
