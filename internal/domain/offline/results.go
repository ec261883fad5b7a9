package offline

// DrainResult summarizes one pass over the action queue.
type DrainResult struct {
	Offline      bool     `json:"offline"`
	Attempted    int      `json:"attempted"`
	Succeeded    int      `json:"succeeded"`
	Retrying     int      `json:"retrying"`
	DeadLettered int      `json:"deadLettered"`
	Blocked      int      `json:"blocked"`
	Errors       []string `json:"errors,omitempty"`
}

// UploadResult summarizes one upload of pending changes.
type UploadResult struct {
	Attempted    int         `json:"attempted"`
	Synced       int         `json:"synced"`
	DeadLettered int         `json:"deadLettered"`
	Deferred     int         `json:"deferred"`
	Errors       []SyncError `json:"errors,omitempty"`
}
