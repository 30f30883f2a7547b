package process

import (
	"errors"
	"syscall"
)

// Alive reports whether pid refers to a live process, using the zero
// signal. Only ESRCH counts as dead: EPERM means the process exists but
// belongs to someone else.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Signal delivers sig to the process group led by pid, falling back to the
// single process when pid does not lead a group (for example, a pid that
// was recorded by another service instance).
func Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return syscall.ESRCH
	}
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	return syscall.Kill(pid, sig)
}

// Terminate asks pid to exit with SIGTERM.
func Terminate(pid int) error {
	return Signal(pid, syscall.SIGTERM)
}

// Kill forces pid to exit with SIGKILL.
func Kill(pid int) error {
	return Signal(pid, syscall.SIGKILL)
}

// OS implements process signalling against the host kernel. It is the
// production Signaller used by the experiment lifecycle service.
type OS struct{}

// Alive reports whether pid is alive.
func (OS) Alive(pid int) bool { return Alive(pid) }

// Terminate sends SIGTERM to pid.
func (OS) Terminate(pid int) error { return Terminate(pid) }

// Kill sends SIGKILL to pid.
func (OS) Kill(pid int) error { return Kill(pid) }
