//go:build unix

package ports

import "golang.org/x/sys/unix"

func newPipe() (int, int, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = closePipe(p[0], p[1])
			return -1, -1, err
		}
	}
	return p[0], p[1], nil
}

// signalPipe writes one wake byte.
func signalPipe(fd int) error {
	if _, err := unix.Write(fd, []byte{1}); err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

func drainPipe(fd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func closeFD(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

func closePipe(r, w int) error {
	err := closeFD(r)
	if err2 := closeFD(w); err == nil {
		err = err2
	}
	return err
}
