package tunnel

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"

	"github.com/dgnsrekt/apiscope/internal/metrics"
)

// Frame directions, as reported to metrics.
const (
	DirectionUpstream   = "client_to_server"
	DirectionDownstream = "server_to_client"
)

// closeGrace bounds how long a relayed close waits for the peer's reply.
const closeGrace = 5 * time.Second

var errFrameTooLarge = errors.New("frame exceeds size limit")

// session pairs one browser socket with one destination socket.
type session struct {
	proxyID  string
	target   string
	client   net.Conn
	server   net.Conn
	clientR  io.Reader
	serverR  io.Reader
	maxFrame int64
	metrics  *metrics.Metrics

	// Each side is written by its own pump, plus shutdown. The mutex
	// keeps a shutdown close frame from interleaving with a relayed one.
	clientMu sync.Mutex
	serverMu sync.Mutex

	closing   atomic.Bool
	closeOnce sync.Once
	reason    string
}

func newSession(proxyID, target string, client net.Conn, clientBuf *bufio.Reader, server net.Conn, serverBuf *bufio.Reader, maxFrame int64, m *metrics.Metrics) *session {
	s := &session{
		proxyID:  proxyID,
		target:   target,
		client:   client,
		server:   server,
		clientR:  client,
		serverR:  server,
		maxFrame: maxFrame,
		metrics:  m,
	}
	if clientBuf != nil && clientBuf.Buffered() > 0 {
		s.clientR = io.MultiReader(clientBuf, client)
	}
	if serverBuf != nil {
		s.serverR = io.MultiReader(serverBuf, server)
	}
	return s
}

// run relays frames both ways and returns once both pumps have stopped.
func (s *session) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pump(s.clientR, s.server, &s.serverMu, true, DirectionUpstream)
	}()
	go func() {
		defer wg.Done()
		s.pump(s.serverR, s.client, &s.clientMu, false, DirectionDownstream)
	}()
	wg.Wait()
}

// pump copies frames from src to dst untouched apart from masking, which
// RFC 6455 requires on client-to-server frames only.
func (s *session) pump(src io.Reader, dst net.Conn, mu *sync.Mutex, toServer bool, direction string) {
	for {
		h, payload, err := s.readFrame(src)
		if err != nil {
			s.fail(err, direction)
			return
		}
		if toServer {
			h.Masked = true
			h.Mask = ws.NewMask()
			ws.Cipher(payload, h.Mask, 0)
		}

		mu.Lock()
		err = writeFrame(dst, h, payload)
		mu.Unlock()
		if err != nil {
			s.fail(err, direction)
			return
		}
		s.metrics.TunnelFrame(direction)

		if h.OpCode == ws.OpClose {
			// The first close starts the handshake; this side is done
			// talking and the peer's reply travels on the other pump.
			if s.closing.CompareAndSwap(false, true) {
				time.AfterFunc(closeGrace, func() { s.finish("close handshake timed out") })
				return
			}
			s.finish("closed by " + peerName(direction))
			return
		}
	}
}

func (s *session) readFrame(src io.Reader) (ws.Header, []byte, error) {
	h, err := ws.ReadHeader(src)
	if err != nil {
		return h, nil, err
	}
	if s.maxFrame > 0 && h.Length > s.maxFrame {
		return h, nil, errFrameTooLarge
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(src, payload); err != nil {
		return h, nil, err
	}
	if h.Masked {
		ws.Cipher(payload, h.Mask, 0)
		h.Masked = false
		h.Mask = [4]byte{}
	}
	return h, payload, nil
}

func writeFrame(dst io.Writer, h ws.Header, payload []byte) error {
	if err := ws.WriteHeader(dst, h); err != nil {
		return err
	}
	_, err := dst.Write(payload)
	return err
}

// fail closes both sides after a read or write error. The surviving side
// learns why through a close frame.
func (s *session) fail(err error, direction string) {
	code := ws.StatusGoingAway
	if errors.Is(err, errFrameTooLarge) {
		code = ws.StatusMessageTooBig
	}
	s.closeOnce.Do(func() {
		s.reason = peerName(direction) + " error: " + err.Error()
		if !isClosedErr(err) {
			slog.Debug("Tunnel relay stopped", "proxy_id", s.proxyID, "target", s.target, "direction", direction, "error", err)
		}
		s.sendClose(code, "tunnel peer failed")
		s.closeConns()
	})
}

// finish tears the pair down after a close frame was relayed.
func (s *session) finish(reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		s.closeConns()
	})
}

// shutdown is used for bulk close on server shutdown.
func (s *session) shutdown() {
	s.closeOnce.Do(func() {
		s.reason = "server shutdown"
		s.sendClose(ws.StatusGoingAway, "server shutdown")
		s.closeConns()
	})
}

func (s *session) sendClose(code ws.StatusCode, reason string) {
	body := ws.NewCloseFrameBody(code, reason)
	deadline := time.Now().Add(time.Second)
	_ = s.client.SetWriteDeadline(deadline)
	_ = s.server.SetWriteDeadline(deadline)

	s.clientMu.Lock()
	_ = ws.WriteFrame(s.client, ws.NewCloseFrame(body))
	s.clientMu.Unlock()

	s.serverMu.Lock()
	_ = ws.WriteFrame(s.server, ws.MaskFrame(ws.NewCloseFrame(body)))
	s.serverMu.Unlock()
}

func (s *session) closeConns() {
	_ = s.client.Close()
	_ = s.server.Close()
}

func peerName(direction string) string {
	if direction == DirectionUpstream {
		return "client"
	}
	return "server"
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF)
}
