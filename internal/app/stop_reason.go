package app

// StopReason is logged when the app shuts down. It doubles as a context
// cancel cause so Run can tell signals apart.
type StopReason string

func (r StopReason) Error() string { return "stop: " + string(r) }

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)
