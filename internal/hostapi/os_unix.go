//go:build unix

package hostapi

import "golang.org/x/sys/unix"

var signalNumbers = map[string]int{
	"SIGINT":  int(unix.SIGINT),
	"SIGABRT": int(unix.SIGABRT),
	"SIGFPE":  int(unix.SIGFPE),
	"SIGILL":  int(unix.SIGILL),
	"SIGSEGV": int(unix.SIGSEGV),
	"SIGTERM": int(unix.SIGTERM),
	"SIGQUIT": int(unix.SIGQUIT),
	"SIGPIPE": int(unix.SIGPIPE),
	"SIGALRM": int(unix.SIGALRM),
	"SIGUSR1": int(unix.SIGUSR1),
	"SIGUSR2": int(unix.SIGUSR2),
	"SIGCHLD": int(unix.SIGCHLD),
	"SIGCONT": int(unix.SIGCONT),
	"SIGSTOP": int(unix.SIGSTOP),
	"SIGTSTP": int(unix.SIGTSTP),
	"SIGTTIN": int(unix.SIGTTIN),
	"SIGTTOU": int(unix.SIGTTOU),
}

func kill(pid, sig int) error {
	return unix.Kill(pid, unix.Signal(sig))
}
