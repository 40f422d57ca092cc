package attendance

import (
	"context"
	"math"
	"sort"
	"time"
)

// ProfessorStats are the dashboard numbers for one professor.
type ProfessorStats struct {
	TotalSessions     int `json:"totalSessions"`
	ActiveSessions    int `json:"activeSessions"`
	TotalAttendance   int `json:"totalAttendance"`
	TodayAttendance   int `json:"todayAttendance"`
	AverageAttendance int `json:"averageAttendance"`
}

// StudentStats are the dashboard numbers for one student.
type StudentStats struct {
	Total       int `json:"total"`
	ThisWeek    int `json:"thisWeek"`
	ThisMonth   int `json:"thisMonth"`
	RatePercent int `json:"ratePercent"`
	// Streak counts the newest records that fall on today, walking back until an older day.
	Streak int `json:"streak"`
	// Pending counts today's active sessions the student has not redeemed yet.
	Pending int `json:"pending"`
}

// ProfessorStats summarises the professor's sessions.
func (s *Service) ProfessorStats(ctx context.Context, professorID int64) (ProfessorStats, error) {
	sessions, err := s.repo.ListByProfessor(ctx, professorID)
	if err != nil {
		return ProfessorStats{}, err
	}
	now := s.now()
	today := now.UTC().Format(time.DateOnly)
	var st ProfessorStats
	st.TotalSessions = len(sessions)
	for _, ss := range sessions {
		st.TotalAttendance += len(ss.Attendees)
		if ss.Date == today {
			st.TodayAttendance += len(ss.Attendees)
		}
		if ss.IsActive(now) {
			st.ActiveSessions++
		}
	}
	if st.TotalSessions > 0 {
		st.AverageAttendance = int(math.Round(float64(st.TotalAttendance) / float64(st.TotalSessions)))
	}
	return st, nil
}

// StudentStats summarises the student's attendance against every session held so far.
func (s *Service) StudentStats(ctx context.Context, studentID string) (StudentStats, error) {
	records, err := s.repo.StudentAttendance(ctx, studentID)
	if err != nil {
		return StudentStats{}, err
	}
	sessions, err := s.repo.ListSessions(ctx)
	if err != nil {
		return StudentStats{}, err
	}
	now := s.now()
	weekAgo := now.AddDate(0, 0, -7)
	monthAgo := now.AddDate(0, 0, -30)
	today := now.UTC().Format(time.DateOnly)

	st := StudentStats{Total: len(records)}
	for _, rec := range records {
		if rec.Timestamp.After(weekAgo) {
			st.ThisWeek++
		}
		if rec.Timestamp.After(monthAgo) {
			st.ThisMonth++
		}
	}
	st.Streak = streak(records, today)

	held := 0
	for _, ss := range sessions {
		if ss.Date <= today {
			held++
		}
		if ss.Date == today && ss.IsActive(now) && !ss.HasAttendee(studentID) {
			st.Pending++
		}
	}
	if held > 0 {
		st.RatePercent = int(math.Round(float64(st.Total) / float64(held) * 100))
	}
	return st, nil
}

func streak(records []Record, today string) int {
	sorted := append([]Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })
	n := 0
	for _, rec := range sorted {
		if rec.Timestamp.UTC().Format(time.DateOnly) != today {
			break
		}
		n++
	}
	return n
}
