package sched

// ReadyFlags indicates which conditions fired for a dispatched socket.
type ReadyFlags uint8

const (
	Readable ReadyFlags = 1 << iota
	Writable
)

// Waiter is the minimal surface the dispatcher needs from an OS poller
// (epoll on Linux); production wiring lives in internal/sockets, which
// drives an unix.EpollWait loop behind this interface so internal/sched
// stays free of OS-specific syscalls.
type Waiter interface {
	// Add registers fd for the given interest set.
	Add(fd int, read, write bool) error
	// SetInterest updates fd's interest set in place.
	SetInterest(fd int, read, write bool) error
	// Remove unregisters fd.
	Remove(fd int) error
	// Wait blocks up to timeoutMs (negative = forever) and returns the
	// fds that became ready along with their flags.
	Wait(timeoutMs int64) ([]ReadyEvent, error)
}

type ReadyEvent struct {
	FD    int
	Flags ReadyFlags
}

// Dispatcher tracks per-fd callbacks and forwards Waiter events to them.
type Dispatcher struct {
	waiter    Waiter
	callbacks map[int]func(ReadyFlags)
}

func NewDispatcher(waiter Waiter) *Dispatcher {
	return &Dispatcher{waiter: waiter, callbacks: make(map[int]func(ReadyFlags))}
}

// AddSocket registers fd for read/write readiness notifications.
func (d *Dispatcher) AddSocket(fd int, read, write bool, callback func(ReadyFlags)) error {
	d.callbacks[fd] = callback
	return d.waiter.Add(fd, read, write)
}

func (d *Dispatcher) SetRead(fd int, read bool) error {
	return d.setInterest(fd, &read, nil)
}

func (d *Dispatcher) SetWrite(fd int, write bool) error {
	return d.setInterest(fd, nil, &write)
}

func (d *Dispatcher) setInterest(fd int, read, write *bool) error {
	// Interest flags are tracked by the Waiter implementation; we only
	// need to forward a partial update. Waiters treat a nil pointer as
	// "leave unchanged" by re-querying their own bookkeeping.
	r, w := false, false
	if read != nil {
		r = *read
	}
	if write != nil {
		w = *write
	}
	return d.waiter.SetInterest(fd, r, w)
}

// Remove unregisters fd and drops its callback.
func (d *Dispatcher) Remove(fd int) error {
	delete(d.callbacks, fd)
	return d.waiter.Remove(fd)
}

// PollOnce blocks up to timeoutMs and runs the callback for every fd that
// became ready, in the order the waiter reports them.
func (d *Dispatcher) PollOnce(timeoutMs int64) error {
	events, err := d.waiter.Wait(timeoutMs)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if cb, ok := d.callbacks[ev.FD]; ok {
			cb(ev.Flags)
		}
	}
	return nil
}
