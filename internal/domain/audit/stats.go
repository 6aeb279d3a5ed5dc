package audit

import (
	"fmt"
	"time"
)

// Timeframe selects the lookback window for Stats.
type Timeframe string

const (
	TimeframeHour  Timeframe = "hour"
	TimeframeDay   Timeframe = "day"
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
)

func (t Timeframe) duration() (time.Duration, error) {
	switch t {
	case TimeframeHour:
		return time.Hour, nil
	case TimeframeDay:
		return 24 * time.Hour, nil
	case TimeframeWeek:
		return 7 * 24 * time.Hour, nil
	case TimeframeMonth:
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown timeframe %q", t)
	}
}

// Stats aggregates audit activity over a lookback window.
type Stats struct {
	Timeframe         Timeframe      `json:"timeframe"`
	WindowStart       time.Time      `json:"windowStart"`
	TotalActions      int            `json:"totalActions"`
	SuccessfulActions int            `json:"successfulActions"`
	FailedActions     int            `json:"failedActions"`
	UniqueUsers       int            `json:"uniqueUsers"`
	ByAction          map[string]int `json:"byAction"`
	ByResource        map[string]int `json:"byResource"`
	ByRole            map[string]int `json:"byRole"`
	// ErrorRate is FailedActions/TotalActions, 0 for an empty window.
	ErrorRate float64 `json:"errorRate"`
}

// Stats computes windowed aggregates.
func (l *Log) Stats(timeframe Timeframe) (*Stats, error) {
	window, err := timeframe.duration()
	if err != nil {
		return nil, err
	}
	since := l.now().Add(-window)

	stats := &Stats{
		Timeframe:   timeframe,
		WindowStart: since,
		ByAction:    make(map[string]int),
		ByResource:  make(map[string]int),
		ByRole:      make(map[string]int),
	}

	users := make(map[string]struct{})
	for _, entry := range l.snapshot() {
		if entry.Timestamp.Before(since) {
			continue
		}
		stats.TotalActions++
		if entry.Success {
			stats.SuccessfulActions++
		} else {
			stats.FailedActions++
		}
		users[entry.UserID] = struct{}{}
		stats.ByAction[entry.Action]++
		stats.ByResource[entry.Resource]++
		stats.ByRole[entry.UserRole]++
	}

	stats.UniqueUsers = len(users)
	if stats.TotalActions > 0 {
		stats.ErrorRate = float64(stats.FailedActions) / float64(stats.TotalActions)
	}
	return stats, nil
}
