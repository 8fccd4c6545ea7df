// Package waitlist keeps students that could not be matched in a Redis
// sorted set ordered by exam start, so the most urgent exam is served first.
package waitlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/scribematch/internal/scoring"
	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

const DefaultKey = "scribematch:waitlist"

// ErrNotQueued is returned by Position for a pair that is not waiting.
var ErrNotQueued = errors.New("not on waitlist")

// Entry is one waiting student/exam pair.
type Entry struct {
	StudentID string    `json:"student_id"`
	ExamID    string    `json:"exam_id"`
	ExamStart time.Time `json:"exam_start"`
	Position  int       `json:"position"`
}

type Redis struct {
	rdb *redis.Client
	key string
}

// NewRedis wraps an existing client. An empty key uses DefaultKey.
func NewRedis(rdb *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{rdb: rdb, key: key}
}

// Ping checks connectivity.
func (w *Redis) Ping(ctx context.Context) error {
	if err := w.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func member(studentID, examID string) string {
	return studentID + "|" + examID
}

// Enqueue adds the pair if it is not already waiting and returns its
// 1-based position. Re-enqueueing keeps the original place.
func (w *Redis) Enqueue(ctx context.Context, studentID string, exam *store.ExamRegistration) (int, error) {
	start, err := examStart(exam)
	if err != nil {
		return 0, err
	}
	m := member(studentID, exam.ID)
	if err := w.rdb.ZAddNX(ctx, w.key, redis.Z{Score: float64(start.Unix()), Member: m}).Err(); err != nil {
		return 0, fmt.Errorf("waitlist enqueue: %w", err)
	}
	return w.rank(ctx, m)
}

// Position returns the 1-based position of a waiting pair.
func (w *Redis) Position(ctx context.Context, studentID, examID string) (int, error) {
	return w.rank(ctx, member(studentID, examID))
}

func (w *Redis) rank(ctx context.Context, m string) (int, error) {
	r, err := w.rdb.ZRank(ctx, w.key, m).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotQueued
	}
	if err != nil {
		return 0, fmt.Errorf("waitlist rank: %w", err)
	}
	return int(r) + 1, nil
}

// Remove drops a pair, typically once a proposal has been accepted.
func (w *Redis) Remove(ctx context.Context, studentID, examID string) error {
	if err := w.rdb.ZRem(ctx, w.key, member(studentID, examID)).Err(); err != nil {
		return fmt.Errorf("waitlist remove: %w", err)
	}
	return nil
}

// List returns up to limit waiting pairs in queue order. limit <= 0 means all.
func (w *Redis) List(ctx context.Context, limit int) ([]Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	zs, err := w.rdb.ZRangeWithScores(ctx, w.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("waitlist list: %w", err)
	}
	out := make([]Entry, 0, len(zs))
	for i, z := range zs {
		m, _ := z.Member.(string)
		sid, eid, _ := strings.Cut(m, "|")
		out = append(out, Entry{
			StudentID: sid,
			ExamID:    eid,
			ExamStart: time.Unix(int64(z.Score), 0).UTC(),
			Position:  i + 1,
		})
	}
	return out, nil
}

// Len returns the number of waiting pairs.
func (w *Redis) Len(ctx context.Context) (int64, error) {
	return w.rdb.ZCard(ctx, w.key).Result()
}

func examStart(exam *store.ExamRegistration) (time.Time, error) {
	day, err := time.Parse(store.DateLayout, exam.Exam.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("waitlist: exam date %q: %w", exam.Exam.Date, err)
	}
	mins, err := scoring.ParseClock(exam.Exam.StartTime)
	if err != nil {
		mins = 0
	}
	return day.Add(time.Duration(mins) * time.Minute), nil
}
