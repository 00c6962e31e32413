//go:build !unix

package hostapi

import (
	"errors"
	"syscall"
)

var signalNumbers = map[string]int{
	"SIGINT":  int(syscall.SIGINT),
	"SIGABRT": int(syscall.SIGABRT),
	"SIGFPE":  int(syscall.SIGFPE),
	"SIGILL":  int(syscall.SIGILL),
	"SIGSEGV": int(syscall.SIGSEGV),
	"SIGTERM": int(syscall.SIGTERM),
}

func kill(int, int) error {
	return errors.New("kill is not supported on this platform")
}
