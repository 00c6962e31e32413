//go:build !unix

package ports

import "github.com/cryguy/jsloop/internal/poller"

func newPipe() (int, int, error) { return -1, -1, poller.ErrUnsupported }

func signalPipe(int) error { return poller.ErrUnsupported }

func drainPipe(int) {}

func closePipe(int, int) error { return nil }

func closeFD(int) error { return nil }
