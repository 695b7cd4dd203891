package exam

import "math"

// Statistics are per-test aggregates over COMPLETED attempts. Abandoned
// attempts are only counted.
type Statistics struct {
	TestID            string  `json:"testId"`
	TotalAttempts     int     `json:"totalAttempts"`
	PassedAttempts    int     `json:"passedAttempts"`
	FailedAttempts    int     `json:"failedAttempts"`
	AbandonedAttempts int     `json:"abandonedAttempts"`
	AverageScore      float64 `json:"averageScore"`
	AverageTimeSpent  float64 `json:"averageTimeSpent"`
	HighestScore      float64 `json:"highestScore"`
	LowestScore       float64 `json:"lowestScore"`
	PassRate          float64 `json:"passRate"`
}

// Aggregate computes Statistics from a test's attempts. With no completed
// attempts every metric is zero.
func Aggregate(testID string, attempts []Attempt) Statistics {
	st := Statistics{TestID: testID}
	var sumScore, sumTime float64
	first := true
	for _, a := range attempts {
		switch a.Status {
		case StatusAbandoned:
			st.AbandonedAttempts++
			continue
		case StatusCompleted:
		default:
			continue
		}
		st.TotalAttempts++
		if a.IsPassed != nil && *a.IsPassed {
			st.PassedAttempts++
		} else {
			st.FailedAttempts++
		}
		var score float64
		if a.Score != nil {
			score = *a.Score
		}
		sumScore += score
		if a.TimeSpentMinutes != nil {
			sumTime += float64(*a.TimeSpentMinutes)
		}
		if first {
			st.HighestScore, st.LowestScore = score, score
			first = false
			continue
		}
		st.HighestScore = math.Max(st.HighestScore, score)
		st.LowestScore = math.Min(st.LowestScore, score)
	}
	if st.TotalAttempts == 0 {
		return st
	}
	n := float64(st.TotalAttempts)
	st.AverageScore = round2(sumScore / n)
	st.AverageTimeSpent = round2(sumTime / n)
	st.PassRate = round2(100 * float64(st.PassedAttempts) / n)
	return st
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
