//go:build linux

package poller

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// createWakeFd creates an eventfd for wake-up notifications (Linux).
// Returns the single eventfd as both read and write ends.
func createWakeFd() (int, int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	return fd, fd, err
}

func writeWakeFd(fd int) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(fd, buf[:])
	if err == unix.EAGAIN {
		// counter saturated; a wake is already pending
		return nil
	}
	return err
}

func drainWakeFd(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}
