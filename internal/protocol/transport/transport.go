// Package transport listens for ONC-RPC traffic on TCP and UDP and hands
// each complete RPC message to a registered Dispatcher. It owns record
// marking (RFC 5531 Section 11) on the TCP side and raw datagram framing
// on the UDP side; everything above this layer (portmapper, NFS) only
// ever sees the bytes of one complete RPC message, which it decodes itself
// with rpc.ReadCall, and returns an un-marked reply body.
//
// Generalized from the teacher's portmap-specific server: here a single
// listener serves any number of registered RPC programs, since NFSv2/v3/v4
// and the portmapper all share one TCP/UDP front door per spec.md §4.2.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/nfsd/nfsd/internal/logger"
)

// Dispatcher processes one complete, already-defragmented RPC message
// (call header + arguments) and returns the reply body, without record
// marking -- the listener adds that for TCP and omits it for UDP.
//
// A nil return means the message could not be turned into any reply at
// all (e.g. truncated header) and the connection/datagram is dropped.
type Dispatcher interface {
	Dispatch(ctx context.Context, data []byte, clientAddr string) []byte
}

// Config controls how the transport listener binds and bounds requests.
type Config struct {
	// BindAddress is the interface to listen on, e.g. "0.0.0.0" or "".
	BindAddress string

	// Port is the TCP/UDP port to listen on.
	Port int

	// MaxRequestSize bounds one TCP record, all of its fragments together
	// (spec.md §6 max_request_size, default 1 MiB). An oversized record
	// closes the connection rather than being silently dropped.
	MaxRequestSize uint32

	// ConnReadTimeout bounds how long a TCP connection may sit idle
	// between record-marked messages before being closed.
	ConnReadTimeout time.Duration
}

// DefaultMaxRequestSize matches spec.md §6's max_request_size default.
const DefaultMaxRequestSize = 1 << 20

// DefaultConnReadTimeout bounds idle TCP connections.
const DefaultConnReadTimeout = 60 * time.Second

// maxUDPDatagram is the largest UDP payload this listener will accept
// (RFC 1122 practical IPv4 UDP ceiling).
const maxUDPDatagram = 65507

// Listener serves registered RPC programs over TCP and UDP.
type Listener struct {
	config     Config
	dispatcher Dispatcher

	tcpListener net.Listener
	udpConn     *net.UDPConn

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// New creates a Listener that will dispatch every decoded RPC message to d.
func New(cfg Config, d Dispatcher) *Listener {
	if cfg.MaxRequestSize == 0 {
		cfg.MaxRequestSize = DefaultMaxRequestSize
	}
	if cfg.ConnReadTimeout == 0 {
		cfg.ConnReadTimeout = DefaultConnReadTimeout
	}
	return &Listener{
		config:     cfg,
		dispatcher: d,
		shutdown:   make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Serve binds TCP and UDP sockets and blocks, serving RPC traffic, until
// ctx is cancelled or Stop is called.
func (l *Listener) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", l.config.BindAddress, l.config.Port)

	tcpListener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	l.tcpListener = tcpListener

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		_ = l.tcpListener.Close()
		return fmt.Errorf("resolve udp %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		_ = l.tcpListener.Close()
		return fmt.Errorf("listen udp %s: %w", addr, err)
	}
	l.udpConn = udpConn

	logger.Info("RPC listener started", "address", addr)

	l.wg.Add(2)
	go l.serveTCP(ctx)
	go l.serveUDP(ctx)

	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.shutdown:
		}
	}()

	l.wg.Wait()
	return nil
}

func (l *Listener) serveTCP(ctx context.Context) {
	defer l.wg.Done()

	for {
		conn, err := l.tcpListener.Accept()
		if err != nil {
			select {
			case <-l.shutdown:
				return
			default:
				logger.Debug("RPC TCP accept error", "error", err)
				return
			}
		}

		l.trackConn(conn)
		l.wg.Add(1)
		go func(c net.Conn) {
			defer l.wg.Done()
			defer l.untrackConn(c)
			l.handleTCPConn(ctx, c)
		}(conn)
	}
}

func (l *Listener) trackConn(c net.Conn) {
	l.connsMu.Lock()
	l.conns[c] = struct{}{}
	l.connsMu.Unlock()
}

func (l *Listener) untrackConn(c net.Conn) {
	l.connsMu.Lock()
	delete(l.conns, c)
	l.connsMu.Unlock()
}

// handleTCPConn serves a single TCP connection, reading record-marked
// requests and reassembling each from its fragments, until the connection
// closes, times out, or sends an oversized record.
func (l *Listener) handleTCPConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	clientAddr := conn.RemoteAddr().String()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(l.config.ConnReadTimeout)); err != nil {
			logger.Debug("RPC: failed to set read deadline", "client", clientAddr, "error", err)
			return
		}

		var headerBuf [4]byte
		if _, err := io.ReadFull(conn, headerBuf[:]); err != nil {
			if err != io.EOF {
				logger.Debug("RPC: read fragment header error", "client", clientAddr, "error", err)
			}
			return
		}

		headerVal := binary.BigEndian.Uint32(headerBuf[:])
		length := headerVal & 0x7FFFFFFF

		if length > l.config.MaxRequestSize {
			logger.Warn("RPC: fragment exceeds max_request_size, closing connection",
				"size", length, "limit", l.config.MaxRequestSize, "client", clientAddr)
			return
		}

		msgBuf := make([]byte, length)
		if _, err := io.ReadFull(conn, msgBuf); err != nil {
			logger.Debug("RPC: read message body error", "client", clientAddr, "error", err)
			return
		}
		for headerVal&0x80000000 == 0 {
			if _, err := io.ReadFull(conn, headerBuf[:]); err != nil {
				return
			}
			headerVal = binary.BigEndian.Uint32(headerBuf[:])
			n := headerVal & 0x7FFFFFFF
			if uint64(len(msgBuf))+uint64(n) > uint64(l.config.MaxRequestSize) {
				logger.Warn("RPC: record exceeds max_request_size, closing connection", "limit", l.config.MaxRequestSize, "client", clientAddr)
				return
			}
			msgBuf = append(msgBuf, make([]byte, n)...)
			if _, err := io.ReadFull(conn, msgBuf[len(msgBuf)-int(n):]); err != nil {
				return
			}
		}

		if err := conn.SetWriteDeadline(time.Now().Add(l.config.ConnReadTimeout)); err != nil {
			logger.Debug("RPC: failed to set write deadline", "client", clientAddr, "error", err)
			return
		}

		replyBody := l.dispatcher.Dispatch(ctx, msgBuf, clientAddr)
		if replyBody == nil {
			continue
		}

		reply := make([]byte, 4+len(replyBody))
		binary.BigEndian.PutUint32(reply[0:4], 0x80000000|uint32(len(replyBody)))
		copy(reply[4:], replyBody)

		if _, err := conn.Write(reply); err != nil {
			logger.Debug("RPC: write TCP reply error", "client", clientAddr, "error", err)
			return
		}
	}
}

func (l *Listener) serveUDP(ctx context.Context) {
	defer l.wg.Done()

	buf := make([]byte, maxUDPDatagram)

	for {
		select {
		case <-l.shutdown:
			return
		default:
		}

		if err := l.udpConn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			select {
			case <-l.shutdown:
				return
			default:
				logger.Debug("RPC: set UDP deadline error", "error", err)
				continue
			}
		}

		n, clientAddr, err := l.udpConn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-l.shutdown:
				return
			default:
				logger.Debug("RPC: UDP read error", "error", err)
				continue
			}
		}

		msgBuf := make([]byte, n)
		copy(msgBuf, buf[:n])
		clientStr := clientAddr.String()

		replyBody := l.dispatcher.Dispatch(ctx, msgBuf, clientStr)
		if replyBody == nil {
			continue
		}

		if _, err := l.udpConn.WriteToUDP(replyBody, clientAddr); err != nil {
			logger.Debug("RPC: write UDP reply error", "client", clientStr, "error", err)
		}
	}
}

// Stop gracefully shuts the listener down: it stops accepting new work and
// closes every in-flight TCP connection, aggregating whatever close errors
// surface into a single multierr.
func (l *Listener) Stop() error {
	var stopErr error
	l.shutdownOnce.Do(func() {
		close(l.shutdown)
		if l.tcpListener != nil {
			stopErr = multierr.Append(stopErr, l.tcpListener.Close())
		}
		if l.udpConn != nil {
			stopErr = multierr.Append(stopErr, l.udpConn.Close())
		}

		l.connsMu.Lock()
		conns := make([]net.Conn, 0, len(l.conns))
		for c := range l.conns {
			conns = append(conns, c)
		}
		l.connsMu.Unlock()

		for _, c := range conns {
			stopErr = multierr.Append(stopErr, c.Close())
		}
	})
	return stopErr
}

// Addr returns the bound TCP address, or "" if not yet listening.
func (l *Listener) Addr() string {
	if l.tcpListener != nil {
		return l.tcpListener.Addr().String()
	}
	return ""
}

// UDPAddr returns the bound UDP address, or "" if not yet listening.
func (l *Listener) UDPAddr() string {
	if l.udpConn != nil {
		return l.udpConn.LocalAddr().String()
	}
	return ""
}
