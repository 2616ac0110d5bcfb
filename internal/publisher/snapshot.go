package publisher

// Snapshot is the /status JSON view of every published parameter (§6),
// taken under the publisher's lock so a caller sees a consistent cut.
type Snapshot struct {
	Status             string                        `json:"status"`
	Alert              int                            `json:"alert"`
	Index              int                            `json:"index"`
	TimeOnQueueMinutes int64                           `json:"time_on_queue_minutes"`
	Current            string                          `json:"current"`
	Contents           []string                        `json:"contents"`
	Failure            *FailureDetails                 `json:"failure,omitempty"`
	MSBCompleted       map[string]MSBCompletedRecord   `json:"msb_completed"`
	GoodStream         []Message                       `json:"good_stream"`
	ErrorStream        []Message                       `json:"error_stream"`
}

// Snapshot returns the current published state for the /status endpoint.
func (p *Publisher) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	contents := make([]string, len(p.contents))
	copy(contents, p.contents)

	msbCompleted := make(map[string]MSBCompletedRecord, len(p.msbCompleted))
	for k, v := range p.msbCompleted {
		msbCompleted[k] = v
	}

	good := make([]Message, len(p.goodStream))
	copy(good, p.goodStream)
	errs := make([]Message, len(p.errorStream))
	copy(errs, p.errorStream)

	var failure *FailureDetails
	if p.failure != nil {
		f := *p.failure
		failure = &f
	}

	return Snapshot{
		Status:             p.status,
		Alert:              p.alert,
		Index:              p.index,
		TimeOnQueueMinutes: p.timeOnQueue,
		Current:            p.current,
		Contents:           contents,
		Failure:            failure,
		MSBCompleted:       msbCompleted,
		GoodStream:         good,
		ErrorStream:        errs,
	}
}
