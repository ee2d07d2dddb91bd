package dto

import "time"

// DeadLetterResponse describes a job that exhausted its attempts.
type DeadLetterResponse struct {
	ID           string    `json:"id"`
	JobID        int64     `json:"job_id"`
	Token        string    `json:"token"`
	Address      string    `json:"address"`
	Kind         string    `json:"kind"`
	Attempt      int       `json:"attempt"`
	Error        string    `json:"error"`
	SourceStream string    `json:"source_stream"`
	FailedAt     time.Time `json:"failed_at"`
}
