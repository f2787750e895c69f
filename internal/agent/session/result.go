package session

// Result is what the loop hands back to the caller each time it stops. It is
// one of Success, PausedForUserInput, LimitReached or Failed.
type Result interface {
	// Used is the number of tool calls consumed when the loop stopped.
	Used() int
	isResult()
}

// Success means the model declared the investigation complete.
type Success struct {
	FinalAnalysis string
	ToolCallsUsed int
}

// PausedForUserInput means the model needs an answer from the operator.
type PausedForUserInput struct {
	Reason        string
	ToolCallsUsed int
}

// LimitReached means the tool call budget is exhausted.
type LimitReached struct {
	PartialAnalysis string
	ToolCallsUsed   int
}

// Failed carries a provider failure or an invalid operation.
type Failed struct {
	Cause         error
	ToolCallsUsed int
}

func (r Success) Used() int            { return r.ToolCallsUsed }
func (r PausedForUserInput) Used() int { return r.ToolCallsUsed }
func (r LimitReached) Used() int       { return r.ToolCallsUsed }
func (r Failed) Used() int             { return r.ToolCallsUsed }

func (Success) isResult()            {}
func (PausedForUserInput) isResult() {}
func (LimitReached) isResult()       {}
func (Failed) isResult()             {}

// Result kinds used in logs, metrics and persisted records.
const (
	KindSuccess      = "success"
	KindPaused       = "paused_for_input"
	KindLimitReached = "limit_reached"
	KindFailed       = "failed"
)

// Kind names the variant of r.
func Kind(r Result) string {
	switch r.(type) {
	case Success:
		return KindSuccess
	case PausedForUserInput:
		return KindPaused
	case LimitReached:
		return KindLimitReached
	default:
		return KindFailed
	}
}

// Detail returns the text carried by r: the analysis, the question, the
// advisory or the error message.
func Detail(r Result) string {
	switch v := r.(type) {
	case Success:
		return v.FinalAnalysis
	case PausedForUserInput:
		return v.Reason
	case LimitReached:
		return v.PartialAnalysis
	case Failed:
		if v.Cause != nil {
			return v.Cause.Error()
		}
	}
	return ""
}
