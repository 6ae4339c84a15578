package app

// StopReason records why Run returned; it is logged on shutdown.
type StopReason string

const (
	StopUnknown     StopReason = "unknown"
	StopContextDone StopReason = "context_done"
	StopFatalError  StopReason = "fatal_error"
	StopLoopEnded   StopReason = "loop_ended"
)
