// Package announcer implements the Announcer (spec §4.5): a UDP
// multicast sender/receiver pair broadcasting MulticastMessage
// notifications between Shops of the same logical task, and a
// Collection Point callback dispatching finished notifications for
// tickets the local Shop is tracking.
package announcer

import (
	"context"
	"net"
	"strconv"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/oriys/brew/internal/logging"
	"github.com/oriys/brew/internal/message"
	"github.com/oriys/brew/internal/shoperr"
)

// Handler is invoked for every finished (Complete or Rejected)
// MulticastMessage whose task matches the local Shop's name. Failure
// is advisory and is never delivered here, per spec §4.5.
type Handler func(msg message.MulticastMessage)

// Announcer owns the sender and receiver multicast sockets for one
// Shop.
type Announcer struct {
	task string

	sendConn   *net.UDPConn
	groupAddr  *net.UDPAddr
	recvConn   *net.UDPConn
	packetConn *ipv4.PacketConn

	handler Handler
}

// New validates host against 224.0.0.0/4, opens the sender socket
// (bound to 0.0.0.0:0) and the receiver socket (bound to the
// multicast port, SO_REUSEADDR, joined to the group on all IPv4
// interfaces), and returns an Announcer ready to Send and Listen.
func New(task, host string, port uint16, handler Handler) (*Announcer, error) {
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsMulticast() || ip.To4() == nil {
		return nil, shoperr.New(shoperr.KindInvalidMulticastAddr, "%q is not in 224.0.0.0/4", host)
	}
	groupAddr := &net.UDPAddr{IP: ip, Port: int(port)}

	sendConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, shoperr.Wrap(shoperr.KindAWSSdkError, err, "open announcer sender socket")
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(int(port))))
	if err != nil {
		sendConn.Close()
		return nil, shoperr.Wrap(shoperr.KindAWSSdkError, err, "open announcer receiver socket")
	}
	recvConn := pc.(*net.UDPConn)

	packetConn := ipv4.NewPacketConn(recvConn)
	if err := packetConn.JoinGroup(nil, &net.UDPAddr{IP: ip}); err != nil {
		sendConn.Close()
		recvConn.Close()
		return nil, shoperr.Wrap(shoperr.KindAWSSdkError, err, "join multicast group %s", host)
	}

	return &Announcer{
		task:       task,
		sendConn:   sendConn,
		groupAddr:  groupAddr,
		recvConn:   recvConn,
		packetConn: packetConn,
		handler:    handler,
	}, nil
}

// Send broadcasts msg to the multicast group.
func (a *Announcer) Send(msg message.MulticastMessage) error {
	data := encodeMessage(msg)
	if _, err := a.sendConn.WriteToUDP(data, a.groupAddr); err != nil {
		return shoperr.Wrap(shoperr.KindAWSSdkError, err, "send multicast message for ticket %s", msg.Ticket)
	}
	return nil
}

// Listen reads datagrams until ctx is done, decoding and dispatching
// each to Handler. Decoding errors are logged and skipped; they never
// stop the loop, per spec §4.5.
func (a *Announcer) Listen(ctx context.Context) {
	buf := make([]byte, maxDatagram)
	go func() {
		<-ctx.Done()
		a.recvConn.Close()
	}()

	for {
		n, _, err := a.recvConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Op().Warn("announcer read failed", "error", err)
			continue
		}

		msg, err := decodeMessage(buf[:n])
		if err != nil {
			logging.Op().Warn("announcer decode failed", "error", err)
			continue
		}

		if msg.Task != a.task {
			continue
		}
		if msg.Kind != message.KindTicket || !msg.Status.IsFinished() {
			continue
		}
		a.handler(msg)
	}
}

// Close releases both sockets.
func (a *Announcer) Close() error {
	_ = a.packetConn.LeaveGroup(nil, &net.UDPAddr{IP: a.groupAddr.IP})
	sendErr := a.sendConn.Close()
	recvErr := a.recvConn.Close()
	if sendErr != nil {
		return sendErr
	}
	return recvErr
}
