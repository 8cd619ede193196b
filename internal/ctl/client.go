package ctl

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/e2b-dev/infra/packages/block-transfer/internal/transfer"
)

// StatusError is a non-OK status reported by the server. It matches the
// transfer sentinel of its status with errors.Is.
type StatusError struct {
	Op          Op
	Handle      uint64
	Status      transfer.Status
	Transferred uint64
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (handle %d): %s after %d bytes", e.Op, e.Handle, e.Status, e.Transferred)
}

func (e *StatusError) Unwrap() error {
	return e.Status.Err()
}

// Client issues requests to a Server. Calls are serialized on the one
// connection.
type Client struct {
	mu     sync.Mutex
	conn   io.ReadWriteCloser
	handle uint64

	header   []byte
	response []byte
}

func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}

	return NewClient(conn), nil
}

func NewClient(conn io.ReadWriteCloser) *Client {
	return &Client{
		conn:     conn,
		header:   make([]byte, RequestHeaderSize),
		response: make([]byte, ResponseHeaderSize),
	}
}

// ReadSequential reads len(p) bytes at the session cursor.
func (c *Client) ReadSequential(ctx context.Context, p []byte) (uint64, error) {
	return c.do(ctx, OpReadSequential, 0, p)
}

// WriteSequential writes p at the session cursor.
func (c *Client) WriteSequential(ctx context.Context, p []byte) (uint64, error) {
	return c.do(ctx, OpWriteSequential, 0, p)
}

// ReadAt reads len(p) bytes starting at the block that contains offset.
func (c *Client) ReadAt(ctx context.Context, p []byte, offset uint64) (uint64, error) {
	return c.do(ctx, OpReadAtOffset, offset, p)
}

// WriteAt writes p starting at the block that contains offset.
func (c *Client) WriteAt(ctx context.Context, p []byte, offset uint64) (uint64, error) {
	return c.do(ctx, OpWriteAtOffset, offset, p)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) do(ctx context.Context, op Op, offset uint64, p []byte) (uint64, error) {
	if uint64(len(p)) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d bytes do not fit a single request", transfer.ErrInvalidRequest, len(p))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if conn, ok := c.conn.(net.Conn); ok {
			if err := conn.SetDeadline(deadline); err != nil {
				return 0, fmt.Errorf("failed to set deadline: %w", err)
			}
			defer conn.SetDeadline(time.Time{}) //nolint:errcheck
		}
	}

	c.handle++
	handle := c.handle

	RequestHeader{
		Magic:  RequestMagic,
		Op:     op,
		Handle: handle,
		Offset: offset,
		Size:   uint32(len(p)),
	}.Encode(c.header)

	if _, err := c.conn.Write(c.header); err != nil {
		return 0, fmt.Errorf("failed to write request header: %w", err)
	}

	if op.IsWrite() && len(p) > 0 {
		if _, err := c.conn.Write(p); err != nil {
			return 0, fmt.Errorf("failed to write request payload: %w", err)
		}
	}

	if _, err := io.ReadFull(c.conn, c.response); err != nil {
		return 0, fmt.Errorf("failed to read response header: %w", err)
	}

	resp := DecodeResponseHeader(c.response)
	if resp.Magic != ResponseMagic {
		return 0, fmt.Errorf("%w 0x%08x in response", ErrBadMagic, resp.Magic)
	}

	if resp.Handle != handle {
		return 0, fmt.Errorf("response handle %d does not match request %d", resp.Handle, handle)
	}

	if resp.Status != transfer.StatusOK {
		return resp.Transferred, &StatusError{
			Op:          op,
			Handle:      handle,
			Status:      resp.Status,
			Transferred: resp.Transferred,
		}
	}

	if !op.IsWrite() && len(p) > 0 {
		if _, err := io.ReadFull(c.conn, p); err != nil {
			return resp.Transferred, fmt.Errorf("failed to read response payload: %w", err)
		}
	}

	return resp.Transferred, nil
}
