package app

// StopReason records why the daemon is shutting down; it is logged so
// post-mortems can tell a signal from a fatal internal error.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)
