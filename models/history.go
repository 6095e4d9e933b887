package models

import "time"

// HistoryEntry records one command that went through the executor.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"deviceId"`
	Command    string    `json:"command"`
	Success    bool      `json:"success"`
	ExitCode   int       `json:"exitCode"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
}
