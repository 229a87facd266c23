package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.BeginIngestActivity)
	w.RegisterActivity(a.RunIngestActivity)
	w.RegisterActivity(a.FailIngestActivity)
}
