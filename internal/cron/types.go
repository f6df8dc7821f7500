package cron

import (
	"time"

	"github.com/google/uuid"
)

// Payload kinds: a prompt job runs a pipeline turn; a maintenance job runs a
// named housekeeping task (knowledge index optimize, integrity check).
const (
	PayloadPrompt      = "prompt"
	PayloadMaintenance = "maintenance"
)

// Maintenance task names.
const (
	TaskOptimizeIndex  = "knowledge-optimize"
	TaskIntegrityCheck = "knowledge-integrity"
)

// Schedule describes when a job fires. Kind is "cron" (6-field expression
// with seconds), "every" (fixed interval), or "at" (one-shot).
type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

// Payload is what a job does when it fires.
type Payload struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"` // prompt text or maintenance task name
	Deliver bool   `json:"deliver,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

// JobState tracks the last execution outcome.
type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

// CronJob is one persisted scheduled job.
type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	CreatedAtMs    int64    `json:"createdAtMs"`
}

// NewCronJob builds an enabled job with a fresh id.
func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:          uuid.NewString(),
		Name:        name,
		Enabled:     true,
		Schedule:    schedule,
		Payload:     payload,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}
