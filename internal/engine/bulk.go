package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

// BulkRequest is one student/exam pair in a BulkMatch call.
type BulkRequest struct {
	Student *store.StudentProfile
	Exam    *store.ExamRegistration
	Scribes []store.ScribeProfile
}

// PairKey identifies a request in BulkMatch results.
func PairKey(studentID, examID string) string {
	return studentID + "-" + examID
}

func (r BulkRequest) key() string {
	var sid, eid string
	if r.Student != nil {
		sid = r.Student.ID
	}
	if r.Exam != nil {
		eid = r.Exam.ID
	}
	return PairKey(sid, eid)
}

// BulkMatch runs FindMatches for each request with at most BulkConcurrency
// runs in flight. Results are keyed by PairKey; when two requests share a key
// the later one in reqs wins.
func (e *Engine) BulkMatch(ctx context.Context, reqs []BulkRequest) map[string]MatchingResponse {
	responses := make([]MatchingResponse, len(reqs))

	var g errgroup.Group
	g.SetLimit(e.cfg.BulkConcurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			responses[i] = e.match(ctx, run{mode: ModeBulk, minimumScore: e.cfg.MinimumScore}, req.Student, req.Exam, req.Scribes)
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]MatchingResponse, len(reqs))
	for i, req := range reqs {
		k := req.key()
		if _, dup := results[k]; dup {
			e.logger.Warn("duplicate bulk request key", "key", k, "index", i)
		}
		results[k] = responses[i]
	}
	return results
}
