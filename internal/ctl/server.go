package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/block-transfer/internal/logger"
	"github.com/e2b-dev/infra/packages/block-transfer/internal/transfer"
)

type Executor interface {
	Execute(ctx context.Context, req transfer.Request) (uint64, error)
}

// Server exposes an engine on a unix socket. Requests on one connection are
// handled in order; connections share the engine.
type Server struct {
	engine          Executor
	socketPath      string
	maxTransferSize uint32

	ready chan struct{}
	conns sync.WaitGroup
}

func NewServer(socketPath string, engine Executor, maxTransferSize uint32) *Server {
	if maxTransferSize == 0 {
		maxTransferSize = DefaultMaxTransferSize
	}

	return &Server{
		engine:          engine,
		socketPath:      socketPath,
		maxTransferSize: maxTransferSize,
		ready:           make(chan struct{}),
	}
}

// Ready is closed once the socket accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

func (s *Server) Run(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	var lc net.ListenConfig

	l, err := lc.Listen(ctx, "unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	close(s.ready)

	zap.L().Info("control server listening", zap.String("socket", s.socketPath))

	return s.Serve(ctx, l)
}

// Serve accepts connections until ctx is done, then closes every open
// connection and waits for their handlers to return.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		if err := l.Close(); err != nil {
			zap.L().Error("failed to close listener", zap.Error(err))
		}
	})
	defer stop()

	defer s.conns.Wait()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			if errors.Is(err, net.ErrClosed) {
				return err
			}

			zap.L().Error("failed to accept connection", zap.Error(err))

			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			defer func() {
				_ = conn.Close()

				if r := recover(); r != nil {
					zap.L().Error("recovering from control connection panic", zap.Any("panic", r))
				}
			}()

			closeConn := context.AfterFunc(ctx, func() { _ = conn.Close() })
			defer closeConn()

			if err := s.ServeConn(ctx, conn); err != nil && ctx.Err() == nil {
				zap.L().Warn("control connection closed with error", zap.Error(err))
			}
		}()
	}
}

// ServeConn handles requests on conn until the peer disconnects. A nil error
// means the peer closed the stream between requests.
func (s *Server) ServeConn(ctx context.Context, conn io.ReadWriter) error {
	header := make([]byte, RequestHeaderSize)
	response := make([]byte, ResponseHeaderSize)

	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("failed to read request header: %w", err)
		}

		h := DecodeRequestHeader(header)
		if h.Magic != RequestMagic {
			return fmt.Errorf("%w 0x%08x", ErrBadMagic, h.Magic)
		}

		if !h.Op.Valid() {
			// The payload length of an unknown op is unknown, so the stream
			// cannot be resynchronised.
			err := writeResponse(conn, response, ResponseHeader{
				Status: transfer.StatusInvalidRequest,
				Handle: h.Handle,
			}, nil)

			return errors.Join(fmt.Errorf("%w %d", ErrUnknownOp, uint32(h.Op)), err)
		}

		if err := s.handle(ctx, conn, h, response); err != nil {
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, conn io.ReadWriter, h RequestHeader, response []byte) error {
	var (
		payload *payloadBuffer
		data    []byte
		buf     transfer.Buffer
	)

	switch {
	case h.Op.IsWrite():
		payload = &payloadBuffer{r: conn, remaining: uint64(h.Size)}
		buf = payload
	case h.Size <= s.maxTransferSize:
		data = make([]byte, h.Size)
		buf = transfer.SliceBuffer(data)
	}

	var transferred uint64

	req, err := Decode(h, buf, s.maxTransferSize)
	if err == nil {
		transferred, err = s.engine.Execute(ctx, req)
	}

	if payload != nil {
		// Whatever the engine did not consume is still on the wire.
		if drainErr := payload.drain(); drainErr != nil {
			return fmt.Errorf("failed to read write payload: %w", drainErr)
		}
	}

	status := transfer.StatusOf(err)
	if err != nil {
		zap.L().Debug("control request failed",
			logger.WithOperation(h.Op.String()),
			logger.WithHandle(h.Handle),
			zap.Stringer("status", status),
			zap.Uint64("transferred", transferred),
			zap.Error(err),
		)
	}

	var body []byte
	if status == transfer.StatusOK && !h.Op.IsWrite() {
		body = data
	}

	return writeResponse(conn, response, ResponseHeader{
		Status:      status,
		Handle:      h.Handle,
		Transferred: transferred,
	}, body)
}

func writeResponse(w io.Writer, b []byte, h ResponseHeader, body []byte) error {
	h.Magic = ResponseMagic
	h.Encode(b)

	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("failed to write response header: %w", err)
	}

	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("failed to write response payload: %w", err)
		}
	}

	return nil
}

// payloadBuffer is the caller memory of a write request: the payload
// following the request header on the connection.
type payloadBuffer struct {
	r         io.Reader
	remaining uint64
}

var _ transfer.Buffer = (*payloadBuffer)(nil)

func (b *payloadBuffer) CopyIn(dst []byte) error {
	if uint64(len(dst)) > b.remaining {
		return fmt.Errorf("payload holds %d bytes, %d requested", b.remaining, len(dst))
	}

	n, err := io.ReadFull(b.r, dst)
	b.remaining -= uint64(n)

	return err
}

func (b *payloadBuffer) CopyOut([]byte) error {
	return errors.New("write payload cannot receive data")
}

func (b *payloadBuffer) drain() error {
	if b.remaining == 0 {
		return nil
	}

	n, err := io.CopyN(io.Discard, b.r, int64(b.remaining))
	b.remaining -= uint64(n)

	return err
}
