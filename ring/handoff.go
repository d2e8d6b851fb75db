//go:build !windows

package ring

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

var errClosedStream = errors.New("ring: handoff stream closed")

// UnixSender is the ChunkSender used by the agent: it hands a fresh
// chunk's fd to the parent over the dedicated Unix-domain stream
// opened from the payload's ipc_fd, using an SCM_RIGHTS ancillary
// message whose one-byte body is ignored content, matching the
// wire contract.
type UnixSender struct {
	conn *net.UnixConn
}

// NewUnixSender wraps an already-connected Unix-domain stream socket.
func NewUnixSender(conn *net.UnixConn) *UnixSender {
	return &UnixSender{conn: conn}
}

// SendChunk implements ChunkSender.
func (s *UnixSender) SendChunk(fd int) error {
	f, err := s.conn.File()
	if err != nil {
		return fmt.Errorf("handoff: get file: %w", err)
	}
	defer f.Close()

	rights := syscall.UnixRights(fd)
	if err := syscall.Sendmsg(int(f.Fd()), []byte{0}, rights, nil, 0); err != nil {
		return fmt.Errorf("handoff: sendmsg: %w", err)
	}
	return nil
}

// Receiver is the parent-side counterpart: it reads fd-passing
// messages off the dedicated stream and maps each received chunk
// read-only.
type Receiver struct {
	conn *net.UnixConn
	buf  []byte
	oob  []byte
}

// NewReceiver wraps the parent's end of the handoff stream.
func NewReceiver(conn *net.UnixConn) *Receiver {
	return &Receiver{
		conn: conn,
		buf:  make([]byte, 1),
		oob:  make([]byte, syscall.CmsgSpace(4)),
	}
}

// Next blocks for the next chunk handed off by a producer and returns
// it mapped read-only. Returns (nil, errClosedStream) when the stream closes,
// which happens once every fd any descendant held is closed.
func (r *Receiver) Next() (*Chunk, error) {
	f, err := r.conn.File()
	if err != nil {
		return nil, fmt.Errorf("handoff: get file: %w", err)
	}
	defer f.Close()

	n, oobn, _, _, err := syscall.Recvmsg(int(f.Fd()), r.buf, r.oob, 0)
	if err != nil {
		return nil, fmt.Errorf("handoff: recvmsg: %w", err)
	}
	if n == 0 && oobn == 0 {
		return nil, errClosedStream
	}

	cmsgs, err := syscall.ParseSocketControlMessage(r.oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("handoff: parse control message: %w", err)
	}
	for _, cmsg := range cmsgs {
		fds, err := syscall.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			return MapReadOnly(fd, ChunkSize)
		}
	}
	return nil, fmt.Errorf("handoff: no rights in control message")
}
