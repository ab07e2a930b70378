// Package qerr carries the instance lifecycle engine's error kinds and their
// process exit codes (spec §7), generalizing the teacher's ad hoc sentinel
// errors (hypervisor.ErrNotFound) into one structured kind so cmd/ can do a
// single errors.As dispatch at the top level.
package qerr

import (
	"fmt"
	"strings"
)

// Kind identifies one of the error kinds spec §7 enumerates.
type Kind int

const (
	// KindGeneral covers anything not given its own exit code.
	KindGeneral Kind = iota
	KindImageNotFound
	KindAmbiguous
	KindNameInUse
	KindNoCIDAvailable
	KindLockBusy
	KindDirectoryCreate
	KindOverlayCreateFailed
	KindHelperMissing
	KindAbnormalShutdown
	KindInterpreterError
	KindInstanceNotFound
)

// ExitCode is the process exit code spec §6/§7 assigns to each Kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindGeneral:
		return 1
	case KindLockBusy:
		return 122
	case KindDirectoryCreate:
		return 123
	case KindNoCIDAvailable:
		return 124
	case KindNameInUse, KindAmbiguous, KindInstanceNotFound:
		return 125
	case KindImageNotFound:
		return 126
	case KindHelperMissing:
		return 127
	default:
		return 1
	}
}

func (k Kind) String() string {
	switch k {
	case KindImageNotFound:
		return "ImageNotFound"
	case KindAmbiguous:
		return "Ambiguous"
	case KindNameInUse:
		return "NameInUse"
	case KindNoCIDAvailable:
		return "NoCIDAvailable"
	case KindLockBusy:
		return "LockBusy"
	case KindDirectoryCreate:
		return "DirectoryCreate"
	case KindOverlayCreateFailed:
		return "OverlayCreateFailed"
	case KindHelperMissing:
		return "HelperMissing"
	case KindAbnormalShutdown:
		return "AbnormalShutdown"
	case KindInterpreterError:
		return "InterpreterError"
	case KindInstanceNotFound:
		return "InstanceNotFound"
	default:
		return "General"
	}
}

// Error is a typed error carrying an exit-code Kind and, for OverlayCreateFailed,
// an explicit override exit code (the overlay tool's own exit status passes
// through unchanged per spec §7).
type Error struct {
	Kind     Kind
	Message  string
	Err      error
	ExitCode int // 0 means "use Kind.ExitCode()"
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the process exit code for e.
func (e *Error) Code() int {
	if e.ExitCode != 0 {
		return e.ExitCode
	}
	return e.Kind.ExitCode()
}

// New constructs a *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a *Error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ImageNotFound reports that token did not resolve to any image.
func ImageNotFound(token string) *Error {
	return New(KindImageNotFound, "image not found: %s", token)
}

// Ambiguous reports that token matched multiple candidates with no unique
// resolution (spec §4.1 resolve()); the message previews at most 8 of the
// matches.
func Ambiguous(kind, token string, matches []string) *Error {
	preview := matches
	if len(preview) > 8 { //nolint:mnd
		preview = preview[:8]
	}
	return &Error{
		Kind:    KindAmbiguous,
		Message: fmt.Sprintf("ambiguous %s reference %q: %d candidates: %s", kind, token, len(matches), strings.Join(preview, ", ")),
	}
}

// NameInUse reports a VM-name collision at creation time.
func NameInUse(name, vmid string) *Error {
	return New(KindNameInUse, "name %q already in use by instance %s", name, vmid)
}

// NoCIDAvailable reports vsock CID allocation exhaustion or device failure.
func NoCIDAvailable(err error) *Error {
	return Wrap(KindNoCIDAvailable, err, "no guest CID available")
}

// LockBusy reports a failed non-blocking instance-directory lock attempt.
func LockBusy(vmid string) *Error {
	return New(KindLockBusy, "instance %s is locked by another session", vmid)
}

// DirectoryCreate reports failure to create the instance directory.
func DirectoryCreate(path string, err error) *Error {
	return Wrap(KindDirectoryCreate, err, "create instance directory %s", path)
}

// OverlayCreateFailed reports a non-zero exit from the overlay-creation tool;
// toolExitCode passes through unchanged per spec §7.
func OverlayCreateFailed(path string, toolExitCode int, err error) *Error {
	return &Error{
		Kind:     KindOverlayCreateFailed,
		Message:  fmt.Sprintf("create overlay %s", path),
		Err:      err,
		ExitCode: toolExitCode,
	}
}

// HelperMissing reports a required helper binary not found on PATH.
func HelperMissing(name string) *Error {
	return New(KindHelperMissing, "required helper %q not found on PATH", name)
}

// AbnormalShutdown wraps a failure from the VMM's hard-shutdown verb.
func AbnormalShutdown(err error) *Error {
	return Wrap(KindAbnormalShutdown, err, "abnormal VMM shutdown")
}

// InterpreterError wraps a boot-script interpretation failure.
func InterpreterError(err error) *Error {
	return Wrap(KindInterpreterError, err, "boot script interpreter error")
}

// InstanceNotFound reports that token did not resolve to any instance.
func InstanceNotFound(token string) *Error {
	return New(KindInstanceNotFound, "instance not found: %s", token)
}
