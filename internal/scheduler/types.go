// Package scheduler implements the periodic boost sweep: the job that bumps
// boosted listings on their cadence and closes boosts whose window ended.
//
// The sweep is triggered by an EventBridge schedule in deployed
// environments and by a local cron runner otherwise. Both pass a
// SweepPayload; its ReferenceTime lets operators replay a sweep at a chosen
// instant for backfills and tests.
package scheduler

import "time"

// SweepPayload is the JSON body of a sweep trigger:
//
//	{
//	  "reference_time": "2026-02-06T03:00:00Z",  // optional
//	  "dry_run": false                           // optional
//	}
type SweepPayload struct {
	// ReferenceTime overrides "now". Nil means the clock's current time.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
	// DryRun reads and decides without writing or notifying.
	DryRun bool `json:"dry_run,omitempty"`
}

// SweepResult summarizes one sweep invocation.
type SweepResult struct {
	Now           time.Time `json:"now"`
	DryRun        bool      `json:"dry_run,omitempty"`
	Pages         int       `json:"pages"`
	Scanned       int       `json:"scanned"`
	Bumped        int       `json:"bumped"`
	Deactivated   int       `json:"deactivated"`
	FailedBatches int       `json:"failed_batches"`
	Notified      int       `json:"notified"`
}
