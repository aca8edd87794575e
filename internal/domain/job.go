package domain

// JobState enumerates the lifecycle of a single generation run.
type JobState string

const (
	JobIdle        JobState = "idle"
	JobSubmitting  JobState = "submitting"
	JobPolling     JobState = "polling"
	JobDownloading JobState = "downloading"
	JobCompleted   JobState = "completed"
	JobFailed      JobState = "failed"
)

// Rank orders states along the run lifecycle. Completed and Failed share the
// terminal rank.
func (s JobState) Rank() int {
	switch s {
	case JobIdle:
		return 0
	case JobSubmitting:
		return 1
	case JobPolling:
		return 2
	case JobDownloading:
		return 3
	case JobCompleted, JobFailed:
		return 4
	default:
		return -1
	}
}

func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether a run may move from one state to another.
// States only move forward; Failed is reachable from every non-terminal state.
func CanTransition(from, to JobState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == JobFailed {
		return true
	}
	switch from {
	case JobIdle:
		return to == JobSubmitting
	case JobSubmitting:
		return to == JobPolling
	case JobPolling:
		return to == JobDownloading
	case JobDownloading:
		return to == JobCompleted
	default:
		return false
	}
}
