package quitreason

import "testing"

func TestEveryReasonHasAStableString(t *testing.T) {
	all := []Reason{
		None, Stopped, SessionRequestUnknown, SessionRequestConnectionRefused,
		SessionRequestRPInUse, SessionRequestRPCrash, SessionRequestRPVersionMismatch,
		CtrlUnknown, CtrlConnectionRefused, CtrlConnectFailed,
		StreamConnectionUnknown, StreamConnectionRemoteDisconnected,
	}
	seen := map[string]Reason{}
	for _, r := range all {
		s := r.String()
		if s == "" || s == "unrecognized quit reason" {
			t.Fatalf("%d: expected a stable non-empty string, got %q", r, s)
		}
		if other, dup := seen[s]; dup {
			t.Fatalf("reasons %d and %d share the string %q", r, other, s)
		}
		seen[s] = r
	}
}

func TestNoneIsTheZeroValue(t *testing.T) {
	var r Reason
	if r != None {
		t.Fatalf("expected the zero value to be None")
	}
}

func TestUnrecognizedReason(t *testing.T) {
	r := Reason(9999)
	if r.String() != "unrecognized quit reason" {
		t.Fatalf("expected fallback string, got %q", r.String())
	}
}
