package queue

// SourceMsg asks the worker to process one source. JobID is the persisted
// job record the API hands back to the caller for polling.
type SourceMsg struct {
	JobID    string `json:"job_id"`
	OrgID    string `json:"org_id"`
	SourceID string `json:"source_id"`
}

// BatchJobMsg asks the worker to run a workspace-wide batch job. Kind is one
// of the batch job kinds accepted by the orchestrator.
type BatchJobMsg struct {
	JobID string `json:"job_id"`
	OrgID string `json:"org_id"`
	Kind  string `json:"kind"`
}
