package qerr

import (
	"errors"
	"testing"
)

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want int
	}{
		{"image not found", ImageNotFound("alpine"), 126},
		{"ambiguous", Ambiguous("image", "al", []string{"a1", "a2"}), 125},
		{"name in use", NameInUse("web", "abc123"), 125},
		{"instance not found", InstanceNotFound("web"), 125},
		{"no cid available", NoCIDAvailable(errors.New("ioctl failed")), 124},
		{"lock busy", LockBusy("abc123"), 122},
		{"directory create", DirectoryCreate("/x", errors.New("denied")), 123},
		{"helper missing", HelperMissing("virtiofsd"), 127},
		{"abnormal shutdown", AbnormalShutdown(errors.New("qmp timeout")), 1},
		{"interpreter error", InterpreterError(errors.New("bad token")), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Code(); got != tt.want {
				t.Errorf("Code() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOverlayCreateFailedPassesThroughToolExitCode(t *testing.T) {
	err := OverlayCreateFailed("/x/disk0.qcow2", 37, errors.New("qemu-img: bad backing file"))
	if got := err.Code(); got != 37 {
		t.Errorf("Code() = %d, want 37", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(KindGeneral, cause, "context")
	if !errors.Is(wrapped, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestErrorAsDispatch(t *testing.T) {
	var err error = ImageNotFound("alpine")
	var qe *Error
	if !errors.As(err, &qe) {
		t.Fatal("expected errors.As to match *Error")
	}
	if qe.Code() != 126 {
		t.Errorf("Code() = %d, want 126", qe.Code())
	}
}

func TestKindStringCoversEveryKind(t *testing.T) {
	kinds := []Kind{
		KindGeneral, KindImageNotFound, KindAmbiguous, KindNameInUse,
		KindNoCIDAvailable, KindLockBusy, KindDirectoryCreate,
		KindOverlayCreateFailed, KindHelperMissing, KindAbnormalShutdown,
		KindInterpreterError, KindInstanceNotFound,
	}
	for _, k := range kinds {
		if k.String() == "" {
			t.Errorf("Kind(%d).String() returned empty", k)
		}
	}
}
