package domain

// TaskState is the lifecycle of one unit of download work. Transitions are
// owned exclusively by the worker executing the task.
type TaskState string

const (
	TaskPending  TaskState = "pending"
	TaskInFlight TaskState = "inflight"
	TaskDone     TaskState = "done"
	TaskFailed   TaskState = "failed"
)

// DownloadTask is one admitted unit of work. ID is a per-process correlation
// handle for log lines; Key is the product identity the task materializes.
type DownloadTask struct {
	ID  string
	Key DownloadKey
}
