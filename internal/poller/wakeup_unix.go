//go:build unix && !linux

package poller

import "golang.org/x/sys/unix"

// createWakeFd creates a non-blocking self-pipe for wake-up notifications.
func createWakeFd() (int, int, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return -1, -1, err
		}
	}
	return p[0], p[1], nil
}

func writeWakeFd(fd int) error {
	_, err := unix.Write(fd, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func drainWakeFd(fd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}
