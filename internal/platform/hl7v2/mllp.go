package hl7v2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MLLP framing bytes: <VT> message <FS><CR>.
const (
	StartBlock     = 0x0B
	EndBlock       = 0x1C
	CarriageReturn = 0x0D
)

const (
	maxMessageSize = 1 << 20
	readTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// Acknowledgement codes for MSA-1.
const (
	AckAccept = "AA"
	AckError  = "AE"
	AckReject = "AR"
)

// MessageHandler processes one message and returns the acknowledgement to
// send back, or nil to send none. raw is the message as received.
type MessageHandler func(ctx context.Context, msg *Message, raw []byte) *Message

// Server accepts MLLP connections and dispatches each framed message to a
// handler.
type Server struct {
	addr    string
	handler MessageHandler
	logger  zerolog.Logger

	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewServer(addr string, handler MessageHandler, logger zerolog.Logger) *Server {
	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger.With().Str("component", "mllp").Logger(),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start listens on the configured address and returns once the listener is
// open. Connections are served in the background until Stop is called or
// ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mllp: listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	go func() {
		<-s.ctx.Done()
		s.listener.Close()
	}()
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to return.
func (s *Server) Stop() error {
	if s.listener == nil {
		return nil
	}
	s.cancel()
	err := s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("accept failed")
			}
			return
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			defer conn.Close()
			s.serve(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	log := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for s.ctx.Err() == nil {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if len(buf) > maxMessageSize {
				log.Warn().Int("bytes", len(buf)).Msg("message exceeds max size, closing connection")
				return
			}
			for {
				raw, rest, found := Unframe(buf)
				if !found {
					break
				}
				buf = rest
				s.process(conn, raw, log)
			}
		}

		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && len(buf) > 0 {
				continue
			}
			return
		}
	}
}

func (s *Server) process(conn net.Conn, raw []byte, log zerolog.Logger) {
	msg, err := Parse(raw)
	if err != nil {
		log.Warn().Err(err).Msg("unparseable message dropped")
		return
	}

	ack := s.handler(s.ctx, msg, raw)
	if ack == nil {
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(Frame(Serialize(ack))); err != nil {
		log.Error().Err(err).Str("control_id", msg.ControlID).Msg("ack write failed")
	}
}

// Frame wraps data in MLLP start and end blocks.
func Frame(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, StartBlock)
	frame = append(frame, data...)
	return append(frame, EndBlock, CarriageReturn)
}

// Unframe extracts the first complete frame from data and returns the bytes
// that follow it. found is false when no complete frame is buffered yet.
func Unframe(data []byte) (message, rest []byte, found bool) {
	start := bytes.IndexByte(data, StartBlock)
	if start == -1 {
		return nil, data, false
	}
	end := bytes.Index(data[start+1:], []byte{EndBlock, CarriageReturn})
	if end == -1 {
		return nil, data, false
	}
	end += start + 1
	return data[start+1 : end], data[end+2:], true
}

// ACK builds the acknowledgement for incoming with the given MSA-1 code.
// Sender and receiver are swapped and MSA-2 carries the original control
// ID. text, when set, goes to MSA-3.
func ACK(incoming *Message, code, text string) *Message {
	trigger := incoming.TriggerEvent()
	now := time.Now().UTC()
	ts := now.Format("20060102150405")
	controlID := "ACK" + now.Format("20060102150405.000")

	ack := &Message{
		Type:         "ACK^" + trigger,
		ControlID:    controlID,
		Version:      incoming.Version,
		Timestamp:    now,
		SendingApp:   incoming.ReceivingApp,
		SendingFac:   incoming.ReceivingFac,
		ReceivingApp: incoming.SendingApp,
		ReceivingFac: incoming.SendingFac,
	}

	msh := Segment{Name: "MSH", Fields: []Field{
		field("|"),
		field(`^~\&`),
		field(ack.SendingApp),
		field(ack.SendingFac),
		field(ack.ReceivingApp),
		field(ack.ReceivingFac),
		field(ts),
		field(""),
		parseField(ack.Type),
		field(controlID),
		field("P"),
		field(incoming.Version),
	}}
	msa := Segment{Name: "MSA", Fields: []Field{field(code), field(incoming.ControlID)}}
	if text != "" {
		msa.Fields = append(msa.Fields, field(escape(text)))
	}

	ack.Segments = []Segment{msh, msa}
	return ack
}

func field(v string) Field {
	return Field{Value: v, Components: []string{v}, Repeats: [][]string{{v}}}
}

// escape replaces the default delimiters with their HL7 escape sequences.
func escape(s string) string {
	return strings.NewReplacer(
		`\`, `\E\`,
		"|", `\F\`,
		"^", `\S\`,
		"~", `\R\`,
		"&", `\T\`,
		"\r", " ",
		"\n", " ",
	).Replace(s)
}
