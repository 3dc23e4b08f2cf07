package workflows

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker) {
	w.RegisterWorkflow(BackfillWorkflow)
	w.RegisterWorkflow(ProcessJobsWorkflow)
	w.RegisterWorkflow(SourceMergeWorkflow)
}
