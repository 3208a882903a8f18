// Package wirepool provides sync.Pool-backed reuse of read buffers and
// scratch Message objects, so the server loop and the forwarder client avoid
// an allocation per datagram on the hot path.
package wirepool

import (
	"sync"

	"github.com/dnscached/dnscached/internal/dnsmessage"
)

// BufferSize is the classic RFC 1035 UDP payload cap this resolver speaks;
// there is no EDNS0 support, so every read buffer is this one size.
const BufferSize = dnsmessage.MaxUDPMessage

var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, BufferSize)
		return &buf
	},
}

// GetBuffer returns a BufferSize-capacity byte slice from the pool.
func GetBuffer() []byte {
	bufPtr := bufferPool.Get().(*[]byte)
	return (*bufPtr)[:BufferSize]
}

// PutBuffer returns buf to the pool. Buffers with an unexpected capacity are
// dropped rather than pooled.
func PutBuffer(buf []byte) {
	if cap(buf) != BufferSize {
		return
	}
	buf = buf[:cap(buf)]
	bufferPool.Put(&buf)
}

var messagePool = sync.Pool{
	New: func() interface{} {
		return new(dnsmessage.Message)
	},
}

// GetMessage returns a zeroed scratch Message from the pool.
func GetMessage() *dnsmessage.Message {
	return messagePool.Get().(*dnsmessage.Message)
}

// PutMessage resets msg and returns it to the pool. Resetting before reuse
// matters here: a stale Answer/Authority slice surviving into the next
// reply built from the pool would leak one client's records into another's.
func PutMessage(msg *dnsmessage.Message) {
	if msg == nil {
		return
	}
	msg.ID = 0
	msg.Flags = dnsmessage.Flags{}
	msg.Question = msg.Question[:0]
	msg.Answer = msg.Answer[:0]
	msg.Authority = msg.Authority[:0]
	msg.Additional = msg.Additional[:0]
	messagePool.Put(msg)
}
