package audit

import (
	"fmt"
	"time"
)

// Anomaly detection thresholds, applied to the last hour of activity.
const (
	anomalyWindow          = time.Hour
	failureThreshold       = 5
	volumeThreshold        = 100
	adminActivityThreshold = 10
)

// Anomaly types.
const (
	AnomalyMultipleFailures = "multiple_failures"
	AnomalyHighVolume       = "high_volume"
	AnomalySuspiciousAdmin  = "suspicious_admin"
)

// Anomaly is a heuristically flagged activity pattern. Advisory only:
// detection never takes corrective action.
type Anomaly struct {
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	UserID      string    `json:"userId,omitempty"`
	Count       int       `json:"count"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detectedAt"`
}

// sensitiveActions are admin operations that warrant clustering checks.
var sensitiveActions = map[string]struct{}{
	"delete":            {},
	"bulk_delete":       {},
	"role_change":       {},
	"permission_change": {},
	"export":            {},
	"import":            {},
}

// DetectAnomalies scans the last hour for repeated failures per user,
// unusually high per-user volume, and clustered sensitive admin actions.
func (l *Log) DetectAnomalies() []Anomaly {
	now := l.now()
	since := now.Add(-anomalyWindow)

	failures := make(map[string]int)
	volume := make(map[string]int)
	adminSensitive := 0

	for _, entry := range l.snapshot() {
		if entry.Timestamp.Before(since) {
			continue
		}
		volume[entry.UserID]++
		if !entry.Success {
			failures[entry.UserID]++
		}
		if entry.UserRole == "admin" {
			if _, ok := sensitiveActions[entry.Action]; ok {
				adminSensitive++
			}
		}
	}

	var anomalies []Anomaly
	for userID, count := range failures {
		if count >= failureThreshold {
			anomalies = append(anomalies, Anomaly{
				Type:        AnomalyMultipleFailures,
				Severity:    "high",
				UserID:      userID,
				Count:       count,
				Description: fmt.Sprintf("user %s had %d failed actions in the last hour", userID, count),
				DetectedAt:  now,
			})
		}
	}
	for userID, count := range volume {
		if count >= volumeThreshold {
			anomalies = append(anomalies, Anomaly{
				Type:        AnomalyHighVolume,
				Severity:    "medium",
				UserID:      userID,
				Count:       count,
				Description: fmt.Sprintf("user %s performed %d actions in the last hour", userID, count),
				DetectedAt:  now,
			})
		}
	}
	if adminSensitive >= adminActivityThreshold {
		anomalies = append(anomalies, Anomaly{
			Type:        AnomalySuspiciousAdmin,
			Severity:    "high",
			Count:       adminSensitive,
			Description: fmt.Sprintf("%d sensitive admin actions in the last hour", adminSensitive),
			DetectedAt:  now,
		})
	}
	return anomalies
}
