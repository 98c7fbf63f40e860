// Package analytics tags the upload events of one synchronisation run.
package analytics

import (
	"runtime"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"
)

// TrackerFactory ...
type TrackerFactory func(log.Logger, ...analytics.Properties) analytics.Tracker

const (
	RunIDEnvKey = "SYNC_RUN_ID"
	RunID       = "sync_run_id"
)

// NewSyncTracker returns a tracker whose events carry the run id from the environment,
// or a fresh one when it is not set.
func NewSyncTracker(repository env.Repository, logger log.Logger, trackerFactory TrackerFactory) analytics.Tracker {
	runID := repository.Get(RunIDEnvKey)
	if runID == "" {
		runID = uuid.NewString()
	}
	return trackerFactory(logger, analytics.Properties{
		RunID:  runID,
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
	})
}

// NewDefaultSyncTracker ...
func NewDefaultSyncTracker(repository env.Repository, logger log.Logger) analytics.Tracker {
	return NewSyncTracker(repository, logger, analytics.NewDefaultTracker)
}
