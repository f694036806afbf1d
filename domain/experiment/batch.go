package experiment

import (
	"time"

	"simagg/domain/core"
)

// ConvergenceBatch identifies one stored convergence query and its settings
type ConvergenceBatch struct {
	ID         core.BatchID `json:"id"`
	Experiment string       `json:"experiment"`
	Metric     string       `json:"metric"`
	Threshold  float64      `json:"threshold"`
	GroupBy    []string     `json:"group_by"`
	RunCount   int          `json:"run_count"`
	CreatedAt  time.Time    `json:"created_at"`
}
