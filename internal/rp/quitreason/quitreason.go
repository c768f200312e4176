// Package quitreason defines the closed set of terminal outcomes a Session
// can report, each with a stable human string (spec.md §3).
package quitreason

// Reason is a closed taxonomy of terminal Session outcomes.
type Reason int

const (
	// None is the sentinel "not yet determined" — never delivered in a QUIT event.
	None Reason = iota
	Stopped
	SessionRequestUnknown
	SessionRequestConnectionRefused
	SessionRequestRPInUse
	SessionRequestRPCrash
	SessionRequestRPVersionMismatch
	CtrlUnknown
	CtrlConnectionRefused
	CtrlConnectFailed
	StreamConnectionUnknown
	StreamConnectionRemoteDisconnected
)

var strings = map[Reason]string{
	None:                                "none",
	Stopped:                             "stopped",
	SessionRequestUnknown:               "session request: unknown error",
	SessionRequestConnectionRefused:     "session request: connection refused",
	SessionRequestRPInUse:               "session request: already in use",
	SessionRequestRPCrash:               "session request: remote play crashed",
	SessionRequestRPVersionMismatch:     "session request: version mismatch",
	CtrlUnknown:                         "ctrl: unknown error",
	CtrlConnectionRefused:               "ctrl: connection refused",
	CtrlConnectFailed:                   "ctrl: connect failed",
	StreamConnectionUnknown:             "stream connection: unknown error",
	StreamConnectionRemoteDisconnected:  "stream connection: remote disconnected",
}

// String returns the stable, human-readable display string for r.
func (r Reason) String() string {
	if s, ok := strings[r]; ok {
		return s
	}
	return "unrecognized quit reason"
}
