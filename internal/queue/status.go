package queue

// Status is the lifecycle state of an Entry.
type Status string

const (
	StatusQueued  Status = "QUEUED"
	StatusSent    Status = "SENT"
	StatusObserved Status = "OBSERVED"
	StatusError   Status = "ERROR"
)

func (s Status) String() string {
	return string(s)
}
