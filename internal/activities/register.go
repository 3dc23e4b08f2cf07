package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.RunBackfillBatchActivity)
	w.RegisterActivity(a.ClaimJobsActivity)
	w.RegisterActivity(a.ProcessJobActivity)
	w.RegisterActivity(a.MarkJobFailedActivity)
	w.RegisterActivity(a.ExtractPDFTextActivity)
	w.RegisterActivity(a.ExtractTxtActivity)
	w.RegisterActivity(a.ChunkSourceActivity)
	w.RegisterActivity(a.MergeSourcesActivity)
	w.RegisterActivity(a.PersistMergedActivity)
}
