package uds

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// maxMessageSize is the largest UDS message the front will carry.
const maxMessageSize = 4096

// Transport is a byte-message connection to the ISO-TP layer.
// Implementations deliver one complete, reassembled UDS message per
// Receive; segmentation and flow control stay below this interface.
type Transport interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

// ISOTPConn is a Linux CAN_ISOTP kernel socket bound to a fixed
// rx/tx CAN id pair. The kernel module performs segmentation and flow
// control; reads and writes move whole UDS messages.
type ISOTPConn struct {
	fd     int
	device string

	writeMu sync.Mutex
}

var _ Transport = (*ISOTPConn)(nil)

// DialISOTP opens an ISO-TP socket on device receiving on rxID and
// transmitting on txID.
func DialISOTP(device string, rxID, txID uint32) (*ISOTPConn, error) {
	iface, err := net.InterfaceByName(device)
	if err != nil {
		return nil, fmt.Errorf("resolve CAN interface %s: %w", device, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_DGRAM, unix.CAN_ISOTP)
	if err != nil {
		return nil, fmt.Errorf("open isotp socket: %w", err)
	}

	addr := &unix.SockaddrCAN{
		Ifindex: iface.Index,
		RxID:    rxID,
		TxID:    txID,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind isotp socket on %s: %w", device, err)
	}

	return &ISOTPConn{fd: fd, device: device}, nil
}

// Send writes one complete UDS message.
func (c *ISOTPConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := unix.Write(c.fd, data); err != nil {
		return fmt.Errorf("isotp write on %s: %w", c.device, err)
	}
	return nil
}

// Receive blocks for the next reassembled UDS message.
func (c *ISOTPConn) Receive() ([]byte, error) {
	buf := make([]byte, maxMessageSize)
	n, err := unix.Read(c.fd, buf)
	if err != nil {
		return nil, fmt.Errorf("isotp read on %s: %w", c.device, err)
	}
	return buf[:n], nil
}

// Close shuts the socket; a blocked Receive returns with an error.
func (c *ISOTPConn) Close() error {
	return unix.Close(c.fd)
}
