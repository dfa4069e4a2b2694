// Package analytics aggregates attendance figures for the admin
// dashboard, with an optional Redis cache in front of the queries.
package analytics

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/attendance"
	"rollcall/internal/session"
	"rollcall/internal/user"
)

const (
	cacheKey = "rollcall:analytics:summary"
	// recentSessionLimit bounds the attendance-over-time series.
	recentSessionLimit = 7
)

// Summary is the dashboard payload.
type Summary struct {
	TotalSessions      int                            `json:"totalSessions"`
	TotalStudents      int                            `json:"totalStudents"`
	AverageAttendance  int                            `json:"averageAttendance"`
	AttendanceOverTime []attendance.SessionAttendance `json:"attendanceOverTime"`
}

// Service computes and caches the summary.
type Service struct {
	sessions session.Store
	users    user.Store
	records  attendance.Store
	cache    *redis.Client
	cacheTTL time.Duration
}

// NewService creates a service. cache may be nil; every read then hits
// the database.
func NewService(sessions session.Store, users user.Store, records attendance.Store, cache *redis.Client, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Service{
		sessions: sessions,
		users:    users,
		records:  records,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// Summary returns the cached summary when fresh, computing it otherwise.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached Summary
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}
	return s.Refresh(ctx)
}

// Refresh recomputes the summary and rewrites the cache.
func (s *Service) Refresh(ctx context.Context) (Summary, error) {
	var sum Summary
	var err error

	if sum.TotalSessions, err = s.sessions.Count(ctx); err != nil {
		return Summary{}, err
	}
	if sum.TotalStudents, err = s.users.CountStudents(ctx); err != nil {
		return Summary{}, err
	}
	if sum.AverageAttendance, err = s.records.AverageAttendance(ctx); err != nil {
		return Summary{}, err
	}
	if sum.AttendanceOverTime, err = s.records.AttendanceOverTime(ctx, recentSessionLimit); err != nil {
		return Summary{}, err
	}

	if s.cache != nil {
		raw, err := json.Marshal(sum)
		if err == nil {
			if err := s.cache.Set(ctx, cacheKey, raw, s.cacheTTL).Err(); err != nil {
				log.Printf("analytics cache write failed: %v", err)
			}
		}
	}
	return sum, nil
}
