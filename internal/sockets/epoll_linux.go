//go:build linux

package sockets

import (
	"golang.org/x/sys/unix"

	"olsrv2d/internal/errkind"
	"olsrv2d/internal/sched"
)

// EpollWaiter is the production sched.Waiter: one epoll instance per
// dispatcher, exactly the one-fd-many-sockets model internal/sched's own
// doc comment describes.
type EpollWaiter struct {
	epfd   int
	events []unix.EpollEvent
}

// NewEpollWaiter creates and opens the underlying epoll instance.
func NewEpollWaiter() (*EpollWaiter, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errkind.Wrap(errkind.FatalIO, err.Error())
	}
	return &EpollWaiter{epfd: fd, events: make([]unix.EpollEvent, 64)}, nil
}

func interestMask(read, write bool) uint32 {
	var mask uint32
	if read {
		mask |= unix.EPOLLIN
	}
	if write {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (w *EpollWaiter) Add(fd int, read, write bool) error {
	ev := unix.EpollEvent{Events: interestMask(read, write), Fd: int32(fd)}
	if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errkind.Wrap(errkind.FatalIO, err.Error())
	}
	return nil
}

func (w *EpollWaiter) SetInterest(fd int, read, write bool) error {
	ev := unix.EpollEvent{Events: interestMask(read, write), Fd: int32(fd)}
	if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return errkind.Wrap(errkind.FatalIO, err.Error())
	}
	return nil
}

func (w *EpollWaiter) Remove(fd int) error {
	if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errkind.Wrap(errkind.FatalIO, err.Error())
	}
	return nil
}

// Wait blocks up to timeoutMs (negative = forever) and reports every fd
// that became readable or writable.
func (w *EpollWaiter) Wait(timeoutMs int64) ([]sched.ReadyEvent, error) {
	n, err := unix.EpollWait(w.epfd, w.events, int(timeoutMs))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, errkind.Wrap(errkind.TransientIO, err.Error())
	}
	out := make([]sched.ReadyEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := w.events[i]
		var flags sched.ReadyFlags
		if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			flags |= sched.Readable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			flags |= sched.Writable
		}
		out = append(out, sched.ReadyEvent{FD: int(ev.Fd), Flags: flags})
	}
	return out, nil
}

// Close releases the underlying epoll fd.
func (w *EpollWaiter) Close() error {
	return unix.Close(w.epfd)
}
