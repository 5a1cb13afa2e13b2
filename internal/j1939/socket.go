package j1939

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// maxDatagram covers the largest J1939 transfer the receiver accepts:
// 255 transport-protocol packets of 7 bytes plus the PGN bytes.
const maxDatagram = 1788

// j1939NoName and j1939NoPGN mirror the Linux UAPI constants of the
// same name (linux/can/j1939.h); this version of golang.org/x/sys/unix
// does not export them.
const (
	j1939NoName = 0
	j1939NoPGN  = 0x40000
)

// Message is one received J1939 datagram.
type Message struct {
	PGN    uint32
	Source uint8
	Data   []byte
}

// Bus is a bound J1939 datagram socket.
type Bus interface {
	Receive() (Message, error)
	Send(pgn uint32, dst uint8, data []byte) error
	// TrySend is a non-blocking send; blocked reports EAGAIN so the
	// periodic sender can back off and retry.
	TrySend(pgn uint32, dst uint8, data []byte) (blocked bool, err error)
	Close() error
}

// Link opens sockets on one CAN device for one node address and
// reports bus liveness. The periodic senders open an ephemeral socket
// per cycle, as the receive socket must stay dedicated to its loop.
type Link interface {
	Open() (Bus, error)
	Active() bool
}

// CANLink is the kernel-backed Link for a SocketCAN device.
type CANLink struct {
	Device string
	Source uint8
}

// Open binds a CAN_J1939 socket to the link's source address,
// receiving all PGNs.
func (l *CANLink) Open() (Bus, error) {
	iface, err := net.InterfaceByName(l.Device)
	if err != nil {
		return nil, fmt.Errorf("resolve CAN interface %s: %w", l.Device, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_DGRAM, unix.CAN_J1939)
	if err != nil {
		return nil, fmt.Errorf("open j1939 socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("j1939 broadcast option: %w", err)
	}

	addr := &unix.SockaddrCANJ1939{
		Ifindex: iface.Index,
		Name:    j1939NoName,
		PGN:     j1939NoPGN,
		Addr:    l.Source,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind j1939 socket on %s: %w", l.Device, err)
	}

	return &canBus{fd: fd, device: l.Device}, nil
}

// Active reports whether the link can carry frames. The kernel CAN
// state machine (ERROR_ACTIVE / ERROR_WARNING) surfaces through the
// interface operational state; virtual CAN devices report "unknown"
// while up.
func (l *CANLink) Active() bool {
	data, err := os.ReadFile("/sys/class/net/" + l.Device + "/operstate")
	if err != nil {
		return false
	}
	switch strings.TrimSpace(string(data)) {
	case "up", "unknown":
		return true
	}
	return false
}

type canBus struct {
	fd     int
	device string
}

func (b *canBus) Receive() (Message, error) {
	buf := make([]byte, maxDatagram)
	n, from, err := unix.Recvfrom(b.fd, buf, 0)
	if err != nil {
		return Message{}, fmt.Errorf("j1939 read on %s: %w", b.device, err)
	}
	sa, ok := from.(*unix.SockaddrCANJ1939)
	if !ok {
		return Message{}, fmt.Errorf("j1939 read on %s: unexpected address family", b.device)
	}
	return Message{PGN: sa.PGN, Source: sa.Addr, Data: buf[:n]}, nil
}

func (b *canBus) Send(pgn uint32, dst uint8, data []byte) error {
	return b.sendto(pgn, dst, data, 0)
}

func (b *canBus) TrySend(pgn uint32, dst uint8, data []byte) (bool, error) {
	err := b.sendto(pgn, dst, data, unix.MSG_DONTWAIT)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
		return true, nil
	}
	return false, err
}

func (b *canBus) sendto(pgn uint32, dst uint8, data []byte, flags int) error {
	addr := &unix.SockaddrCANJ1939{
		Name: j1939NoName,
		PGN:  pgn,
		Addr: dst,
	}
	if err := unix.Sendto(b.fd, data, flags, addr); err != nil {
		return fmt.Errorf("j1939 send PGN %#x on %s: %w", pgn, b.device, err)
	}
	return nil
}

func (b *canBus) Close() error {
	return unix.Close(b.fd)
}
