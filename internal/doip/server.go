package doip

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tturner/ecusim/internal/config"
	"github.com/tturner/ecusim/internal/logging"
)

// Port is the DoIP discovery and data port (ISO 13400-2).
const Port = 13400

// defaultTesterAddress stands in for the tester source address until a
// routing activation names the real one.
const defaultTesterAddress = 0x0E00

// Server is the DoIP gateway: a UDP listener for vehicle
// identification and announcements, and a TCP listener accepting one
// tester connection at a time.
type Server struct {
	cfg        *config.Doip
	dispatcher *Dispatcher
	logger     *logging.Logger

	udp *net.UDPConn
	tcp *net.TCPListener

	connMu sync.Mutex
	conn   *Conn

	done chan struct{}
	wg   sync.WaitGroup
}

// NewServer wires a gateway to its configuration and dispatcher.
func NewServer(cfg *config.Doip, dispatcher *Dispatcher, logger *logging.Logger) *Server {
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start binds the UDP and TCP sockets, begins serving, and sends the
// initial round of vehicle announcements.
func (s *Server) Start() error {
	udpAddr := &net.UDPAddr{Port: Port}
	udp, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return fmt.Errorf("listen DoIP UDP: %w", err)
	}
	if err := enableBroadcast(udp); err != nil {
		udp.Close()
		return fmt.Errorf("enable DoIP broadcast: %w", err)
	}
	s.udp = udp

	tcpAddr := &net.TCPAddr{Port: Port}
	tcp, err := net.ListenTCP("tcp4", tcpAddr)
	if err != nil {
		udp.Close()
		return fmt.Errorf("listen DoIP TCP: %w", err)
	}
	s.tcp = tcp

	s.logger.Info("DoIP server listening on port %d", Port)

	s.wg.Add(2)
	go s.udpLoop()
	go s.acceptLoop()

	s.SendAnnouncements()
	return nil
}

// Stop shuts the gateway down and waits for its goroutines.
func (s *Server) Stop() {
	close(s.done)
	if s.udp != nil {
		s.udp.Close()
	}
	if s.tcp != nil {
		s.tcp.Close()
	}
	s.Disconnect()
	s.wg.Wait()
	s.logger.Info("DoIP server stopped")
}

func (s *Server) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Disconnect drops the active tester connection. Implements the script
// helper hook.
func (s *Server) Disconnect() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.close()
		s.conn = nil
	}
}

// SendAnnouncements broadcasts the configured number of vehicle
// announcements. Implements the script helper hook.
func (s *Server) SendAnnouncements() {
	frame := packVehicleAnnouncement(s.cfg.VIN, s.cfg.LogicalAddress, s.eid(), s.cfg.GID, s.cfg.FurtherAction)
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: Port}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for i := 0; i < s.cfg.AnnounceNum; i++ {
			if s.closing() {
				return
			}
			if _, err := s.udp.WriteToUDP(frame, dst); err != nil {
				s.logger.Error("DoIP announcement failed: %v", err)
				return
			}
			time.Sleep(time.Duration(s.cfg.AnnounceIntMs) * time.Millisecond)
		}
	}()
}

// SendDiagnosticResponse sends data on the active tester connection
// with the given ECU logical address as source. Used by the sendRaw
// script helper; a missing connection drops the payload.
func (s *Server) SendDiagnosticResponse(source uint16, data []byte) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.send(packDiagnosticMessage(source, conn.testerAddress(), data)); err != nil {
		s.logger.Error("DoIP diagnostic send failed: %v", err)
	}
}

func (s *Server) eid() uint64 {
	if !s.cfg.EIDFromMAC {
		return s.cfg.EID
	}
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) < 6 {
				continue
			}
			var v uint64
			for _, b := range iface.HardwareAddr[:6] {
				v = v<<8 | uint64(b)
			}
			return v
		}
	}
	return 0
}

// udpLoop answers vehicle identification requests.
func (s *Server) udpLoop() {
	defer s.wg.Done()
	buf := make([]byte, 2048)

	for {
		if s.closing() {
			return
		}
		s.udp.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return
		}

		msg, _, err := unpackFrame(buf[:n])
		if err != nil || msg == nil {
			continue
		}
		if msg.payloadType == payloadVehicleIdentRequest {
			frame := packVehicleAnnouncement(s.cfg.VIN, s.cfg.LogicalAddress, s.eid(), s.cfg.GID, s.cfg.FurtherAction)
			if _, err := s.udp.WriteToUDP(frame, addr); err != nil {
				s.logger.Error("DoIP identification response failed: %v", err)
			}
		}
	}
}

// acceptLoop serves testers one connection at a time.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		if s.closing() {
			return
		}
		s.tcp.SetDeadline(time.Now().Add(1 * time.Second))
		conn, err := s.tcp.AcceptTCP()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if s.closing() {
				return
			}
			s.logger.Error("DoIP accept error: %v", err)
			continue
		}

		s.logger.Info("DoIP connection from %s", conn.RemoteAddr())
		c := &Conn{tcp: conn, tester: defaultTesterAddress}
		s.connMu.Lock()
		s.conn = c
		s.connMu.Unlock()

		s.serveConn(c)

		s.connMu.Lock()
		if s.conn == c {
			s.conn = nil
		}
		s.connMu.Unlock()
		c.close()
	}
}

// serveConn reads frames from one tester until disconnect or the
// general inactivity timeout.
func (s *Server) serveConn(c *Conn) {
	inactivity := time.Duration(s.cfg.InactivityMs) * time.Millisecond
	var buf []byte
	readBuf := make([]byte, 4096)

	for {
		if s.closing() || c.isClosed() {
			return
		}
		c.tcp.SetReadDeadline(time.Now().Add(inactivity))
		n, err := c.tcp.Read(readBuf)
		if err != nil {
			if err == io.EOF {
				s.logger.Info("DoIP connection closed by tester")
			} else if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.logger.Info("DoIP connection inactive, closing")
			} else if !c.isClosed() {
				s.logger.Error("DoIP read error: %v", err)
			}
			return
		}
		buf = append(buf, readBuf[:n]...)

		for {
			msg, rest, err := unpackFrame(buf)
			if err != nil {
				s.logger.Error("DoIP framing error: %v", err)
				c.send(packGenericNACK(nackIncorrectPattern))
				return
			}
			if msg == nil {
				break
			}
			buf = rest
			s.handleFrame(c, msg)
		}
	}
}

func (s *Server) handleFrame(c *Conn, msg *message) {
	switch msg.payloadType {
	case payloadRoutingActivationReq:
		tester, err := routingActivationRequest(msg.payload)
		if err != nil {
			c.send(packGenericNACK(nackInvalidLength))
			return
		}
		c.setTesterAddress(tester)
		c.send(packRoutingActivationResponse(tester, s.cfg.LogicalAddress, routingSuccessfullyActivated))

	case payloadAliveCheckResponse:
		// nothing to do

	case payloadDiagnosticMessage:
		source, target, data, err := diagnosticMessage(msg.payload)
		if err != nil {
			c.send(packGenericNACK(nackInvalidLength))
			return
		}
		c.setTesterAddress(source)

		if !s.dispatcher.Notify(target) {
			s.logger.Info("DoIP: no ECU at address %#04x", target)
			c.send(packDiagnosticAck(target, source, false, AckUnknownTargetAddress))
			return
		}
		c.send(packDiagnosticAck(target, source, true, AckOK))

		ecuAddr, resp, ok := s.dispatcher.Handle(target, data)
		if ok && len(resp) > 0 {
			c.send(packDiagnosticMessage(ecuAddr, source, resp))
		}

	default:
		c.send(packGenericNACK(nackUnknownPayloadType))
	}
}

// Conn is one tester connection. Writes are serialized internally so
// listener goroutines and script helpers can share it without locking.
type Conn struct {
	tcp *net.TCPConn

	mu     sync.Mutex
	tester uint16
	closed bool
}

func (c *Conn) send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	_, err := c.tcp.Write(frame)
	return err
}

func (c *Conn) setTesterAddress(addr uint16) {
	c.mu.Lock()
	c.tester = addr
	c.mu.Unlock()
}

func (c *Conn) testerAddress() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tester
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.tcp.Close()
	}
}

// enableBroadcast sets SO_BROADCAST so announcements can go to the
// limited broadcast address.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
