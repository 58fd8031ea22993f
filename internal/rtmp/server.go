// Package rtmp bridges real RTMP connections onto the Session Handler:
// running the handshake, demultiplexing the chunk stream, parsing the
// handful of AMF0 commands a publisher's encoder sends (connect,
// createStream, publish, deleteStream/FCUnpublish), and forwarding
// audio/video messages to Session.OnData. It is the "RTMP session" spec.md
// treats as an external collaborator producing on_publish/on_data/on_unpublish
// events; this package is the minimal real implementation of that
// collaborator so the service is runnable end to end. Grounded on the
// retrieval pack's alxayo-rtmp-go server/publish_handler shape (registry
// lookup, onStatus construction) but rewired to call this repo's
// session.Handler instead of its own stream registry.
package rtmp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/bitriver/streampack/internal/rtmp/amf"
	"github.com/bitriver/streampack/internal/rtmp/chunk"
	"github.com/bitriver/streampack/internal/rtmp/handshake"
	"github.com/bitriver/streampack/internal/session"
)

const (
	csidControl = 2
	csidCommand = 3
)

// Server accepts RTMP connections and drives session.Handler for each.
type Server struct {
	listener net.Listener
	handler  *session.Handler
	logger   *slog.Logger
}

// Listen binds addr and returns a Server ready to Serve.
func Listen(addr string, handler *session.Handler, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rtmp: listen %s: %w", addr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{listener: ln, handler: handler, logger: logger.With("component", "rtmp")}, nil
}

// Addr returns the bound listen address, useful when addr was ":0" in tests.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx is cancelled or the listener is closed.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.listener.Close() }

type connState struct {
	app     string
	session *session.Session
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	remote := conn.RemoteAddr().String()
	logger := s.logger.With("remote", remote)

	if err := handshake.Perform(conn); err != nil {
		logger.Warn("handshake failed", "error", err)
		return
	}

	// Announce server-side control defaults; encoders tolerate these being
	// sent unconditionally right after the handshake.
	_ = chunk.WriteMessage(conn, &chunk.Message{
		CSID: csidControl, TypeID: chunk.TypeWindowAckSize, Payload: beU32(2_500_000),
	}, chunk.DefaultChunkSize)
	_ = chunk.WriteMessage(conn, &chunk.Message{
		CSID: csidControl, TypeID: chunk.TypeSetPeerBW, Payload: append(beU32(2_500_000), 2),
	}, chunk.DefaultChunkSize)

	st := &connState{}
	reader := chunk.NewReader(conn)

	defer func() {
		if st.session != nil {
			_ = st.session.OnUnpublish()
		}
	}()

	for {
		msg, err := reader.ReadMessage()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Debug("connection read ended", "error", err)
			}
			return
		}

		switch msg.TypeID {
		case chunk.TypeAMF0Command:
			if err := s.handleCommand(ctx, conn, st, msg, logger); err != nil {
				logger.Warn("command handling failed", "error", err)
				return
			}
		case chunk.TypeAudio, chunk.TypeVideo, chunk.TypeAMF0Data:
			if st.session == nil {
				continue
			}
			if err := st.session.OnData(msg.TypeID, msg.Timestamp, msg.Payload); err != nil {
				logger.Warn("session rejected data", "error", err)
				return
			}
		default:
			// Set Chunk Size is already handled by the Reader; other control
			// message types (Abort, Ack, User Control) need no action here.
		}
	}
}

func (s *Server) handleCommand(ctx context.Context, conn net.Conn, st *connState, msg *chunk.Message, logger *slog.Logger) error {
	values, err := amf.DecodeAll(msg.Payload)
	if err != nil || len(values) == 0 {
		return fmt.Errorf("decode command: %w", err)
	}
	name, _ := values[0].(string)

	switch name {
	case "connect":
		var app string
		if len(values) > 2 {
			if obj, ok := values[2].(map[string]interface{}); ok {
				app, _ = obj["app"].(string)
			}
		}
		st.app = app
		return s.reply(conn, msg.MessageStreamID, "_result", 1, map[string]interface{}{
			"fmsVer":       "FMS/3,0,1,123",
			"capabilities": float64(31),
		}, map[string]interface{}{
			"level":          "status",
			"code":           "NetConnection.Connect.Success",
			"description":    "Connection succeeded.",
			"objectEncoding": float64(0),
		})

	case "createStream":
		txID := 0.0
		if len(values) > 1 {
			txID, _ = values[1].(float64)
		}
		return s.reply(conn, msg.MessageStreamID, "_result", txID, nil, float64(1))

	case "releaseStream", "FCPublish", "FCUnpublish":
		return nil

	case "publish":
		var key string
		if len(values) > 3 {
			key, _ = values[3].(string)
		}
		sess, err := s.handler.OnPublish(ctx, st.app, key)
		if err != nil {
			logger.Warn("publish rejected", "app", st.app, "error", err)
			// A rejected publish attempt (InvalidParam, AuthError, SpawnError,
			// SessionError) is terminal for this attempt only, per spec.md §7:
			// the session stays open so the client can retry publish. Only a
			// failure to even send the rejection (a dead connection) closes it.
			return s.reply(conn, msg.MessageStreamID, "onStatus", 0.0, nil, map[string]interface{}{
				"level":       "error",
				"code":        "NetStream.Publish.BadName",
				"description": err.Error(),
			})
		}
		st.session = sess
		return s.reply(conn, msg.MessageStreamID, "onStatus", 0.0, nil, map[string]interface{}{
			"level":       "status",
			"code":        "NetStream.Publish.Start",
			"description": fmt.Sprintf("Publishing %s.", sess.StreamID()),
		})

	case "deleteStream":
		if st.session != nil {
			err := st.session.OnUnpublish()
			st.session = nil
			return err
		}
		return nil

	default:
		return nil
	}
}

func (s *Server) reply(conn net.Conn, streamID uint32, name string, args ...interface{}) error {
	values := append([]interface{}{name}, args...)
	payload, err := amf.EncodeAll(values...)
	if err != nil {
		return fmt.Errorf("encode %s reply: %w", name, err)
	}
	return chunk.WriteMessage(conn, &chunk.Message{
		CSID:            csidCommand,
		TypeID:          chunk.TypeAMF0Command,
		MessageStreamID: streamID,
		Payload:         payload,
	}, chunk.DefaultChunkSize)
}

func beU32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
