package scheduler

import (
	"context"

	"github.com/friscapuff/alphaforge-brain/internal/retention"
)

// RetentionJob periodically re-applies the retention plan so demotions and
// cold offload happen without an operator in the loop.
type RetentionJob struct {
	manager *retention.Manager
}

// NewRetentionJob creates the background retention job.
func NewRetentionJob(manager *retention.Manager) *RetentionJob {
	return &RetentionJob{manager: manager}
}

// Name implements Job.
func (j *RetentionJob) Name() string { return "retention:apply" }

// Run implements Job.
func (j *RetentionJob) Run() error {
	j.manager.Apply(context.Background())
	return nil
}
