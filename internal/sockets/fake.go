package sockets

import (
	"olsrv2d/internal/errkind"
	"olsrv2d/internal/netaddr"
)

// FakeBackend is an in-memory Backend for tests, grounded on
// internal/osadapter.Fake's pattern of driving state machines off
// programmable results rather than real syscalls.
type FakeBackend struct {
	nextFD int

	// OpenErr, when set, is returned by every Open call.
	OpenErr error

	// SendErr, keyed by fd, is returned once per call to SendTo for that
	// fd (consumed from the front); nil entries mean "succeed".
	SendErr map[int][]error

	// Sent records every successful SendTo call.
	Sent []SentDatagram

	// Inbox, keyed by fd, is the queue of datagrams RecvFrom will
	// deliver; once drained RecvFrom returns a TransientIO "no data"
	// error, matching EAGAIN on a non-blocking socket.
	Inbox map[int][]InboxDatagram

	Closed []int
}

type SentDatagram struct {
	FD   int
	Dest netaddr.NetAddr
	Port int
	Data []byte
}

type InboxDatagram struct {
	Src  netaddr.NetAddr
	Data []byte
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		SendErr: make(map[int][]error),
		Inbox:   make(map[int][]InboxDatagram),
	}
}

func (f *FakeBackend) Open(cfg FamilyConfig, ifIndex int, local netaddr.NetAddr) (int, error) {
	if f.OpenErr != nil {
		return -1, f.OpenErr
	}
	f.nextFD++
	return f.nextFD, nil
}

func (f *FakeBackend) SendTo(fd int, dest netaddr.NetAddr, port int, b []byte) (int, error) {
	if errs := f.SendErr[fd]; len(errs) > 0 {
		err := errs[0]
		f.SendErr[fd] = errs[1:]
		if err != nil {
			return 0, err
		}
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	f.Sent = append(f.Sent, SentDatagram{FD: fd, Dest: dest, Port: port, Data: cp})
	return len(b), nil
}

func (f *FakeBackend) RecvFrom(fd int, buf []byte) (int, netaddr.NetAddr, error) {
	q := f.Inbox[fd]
	if len(q) == 0 {
		return 0, netaddr.NetAddr{}, errkind.Wrap(errkind.TransientIO, "no data")
	}
	dg := q[0]
	f.Inbox[fd] = q[1:]
	n := copy(buf, dg.Data)
	return n, dg.Src, nil
}

func (f *FakeBackend) Close(fd int) error {
	f.Closed = append(f.Closed, fd)
	return nil
}
