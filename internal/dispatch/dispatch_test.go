package dispatch

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dnscached/dnscached/internal/cache"
	"github.com/dnscached/dnscached/internal/dnsmessage"
	"github.com/dnscached/dnscached/internal/queryid"
)

// capturingSender records every reply handed to WriteToUDP.
type capturingSender struct {
	mu      sync.Mutex
	replies []*dnsmessage.Message
}

func (s *capturingSender) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	msg, err := dnsmessage.Parse(b)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.replies = append(s.replies, msg)
	s.mu.Unlock()
	return len(b), nil
}

func (s *capturingSender) last() *dnsmessage.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return nil
	}
	return s.replies[len(s.replies)-1]
}

func (s *capturingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}

// fakeForwarder returns a fixed set of replies (or an error/empty set to
// simulate a timeout), counting how many times it was called.
type fakeForwarder struct {
	calls   atomic.Int32
	delay   time.Duration
	reply   *dnsmessage.Message
	failure bool
}

func (f *fakeForwarder) Query(q dnsmessage.Question, rd bool) ([]*dnsmessage.Message, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failure {
		return nil, nil
	}
	return []*dnsmessage.Message{f.reply}, nil
}

func newTestDispatcher(t *testing.T, fwd Forwarder) (*Dispatcher, *cache.Cache) {
	t.Helper()
	c := cache.New(cache.Config{})
	t.Cleanup(c.Close)
	d := New(c, fwd, queryid.NewHasher(), nil, nil, nil)
	return d, c
}

func buildQuery(id uint16, name string) []byte {
	msg := dnsmessage.BuildRequest(id, name, dnsmessage.TypeA, dnsmessage.ClassIN, true)
	raw, _ := msg.Emit()
	return raw
}

var testFrom = &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 5353}

// TestHandlePreservesClientIDOnForwardedMiss exercises Property 5 and
// Scenario S1: a cache miss is forwarded, and the reply delivered to the
// client carries the client's original transaction ID, not the forwarder's.
func TestHandlePreservesClientIDOnForwardedMiss(t *testing.T) {
	fwdReply := dnsmessage.BuildReply(
		dnsmessage.BuildRequest(0x9abc, "www.example.com.", dnsmessage.TypeA, dnsmessage.ClassIN, true),
		dnsmessage.RcodeNoError,
		[]dnsmessage.ResourceRecord{{Name: "www.example.com.", Type: dnsmessage.TypeA, Class: dnsmessage.ClassIN, TTL: 300, RawRData: []byte{93, 184, 216, 34}}},
		nil, nil,
	)
	fwd := &fakeForwarder{reply: fwdReply}
	d, _ := newTestDispatcher(t, fwd)

	sender := &capturingSender{}
	d.Handle(context.Background(), buildQuery(0x1234, "www.example.com."), testFrom, sender)

	got := sender.last()
	if got == nil {
		t.Fatal("expected a reply to be sent")
	}
	if got.ID != 0x1234 {
		t.Errorf("reply ID = %#x, want client's original ID 0x1234", got.ID)
	}
	if len(got.Answer) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(got.Answer))
	}
	if fwd.calls.Load() != 1 {
		t.Errorf("forwarder called %d times, want 1", fwd.calls.Load())
	}
}

// TestHandleServesSubsequentQueryFromCache covers the second half of S1: a
// later identical query is answered from the cache without another
// forwarder call.
func TestHandleServesSubsequentQueryFromCache(t *testing.T) {
	fwdReply := dnsmessage.BuildReply(
		dnsmessage.BuildRequest(0x9abc, "www.example.com.", dnsmessage.TypeA, dnsmessage.ClassIN, true),
		dnsmessage.RcodeNoError,
		[]dnsmessage.ResourceRecord{{Name: "www.example.com.", Type: dnsmessage.TypeA, Class: dnsmessage.ClassIN, TTL: 300, RawRData: []byte{93, 184, 216, 34}}},
		nil, nil,
	)
	fwd := &fakeForwarder{reply: fwdReply}
	d, _ := newTestDispatcher(t, fwd)

	sender := &capturingSender{}
	d.Handle(context.Background(), buildQuery(0x1111, "www.example.com."), testFrom, sender)
	d.Handle(context.Background(), buildQuery(0x2222, "www.example.com."), testFrom, sender)

	if fwd.calls.Load() != 1 {
		t.Errorf("forwarder called %d times across two identical queries, want 1", fwd.calls.Load())
	}
	if sender.count() != 2 {
		t.Fatalf("expected 2 replies sent, got %d", sender.count())
	}
	if sender.last().ID != 0x2222 {
		t.Errorf("second reply ID = %#x, want 0x2222", sender.last().ID)
	}
}

// TestHandleDedupsConcurrentDuplicateDatagrams covers Property 6 / S3: two
// near-simultaneous datagrams asking the same question result in at most
// one forwarder call.
func TestHandleDedupsConcurrentDuplicateDatagrams(t *testing.T) {
	fwdReply := dnsmessage.BuildReply(
		dnsmessage.BuildRequest(0, "example.net.", dnsmessage.TypeA, dnsmessage.ClassIN, true),
		dnsmessage.RcodeNoError,
		[]dnsmessage.ResourceRecord{{Name: "example.net.", Type: dnsmessage.TypeA, Class: dnsmessage.ClassIN, TTL: 60, RawRData: []byte{1, 2, 3, 4}}},
		nil, nil,
	)
	fwd := &fakeForwarder{reply: fwdReply, delay: 50 * time.Millisecond}
	d, _ := newTestDispatcher(t, fwd)

	var wg sync.WaitGroup
	sender := &capturingSender{}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(id uint16) {
			defer wg.Done()
			d.Handle(context.Background(), buildQuery(id, "example.net."), testFrom, sender)
		}(uint16(0x3000 + i))
	}
	wg.Wait()

	if fwd.calls.Load() > 1 {
		t.Errorf("forwarder called %d times for 2 concurrent identical datagrams, want at most 1", fwd.calls.Load())
	}
}

// TestHandleRelaysRcodeErrorWithoutCaching covers Property 7 / S5: a
// forwarder reply with a non-zero RCODE reaches the client with that RCODE
// and the client's ID, and is absent from the cache on a subsequent lookup.
func TestHandleRelaysRcodeErrorWithoutCaching(t *testing.T) {
	fwdReply := dnsmessage.BuildReply(
		dnsmessage.BuildRequest(0, "broken.example.", dnsmessage.TypeA, dnsmessage.ClassIN, true),
		dnsmessage.RcodeServFail,
		nil, nil, nil,
	)
	fwd := &fakeForwarder{reply: fwdReply}
	d, _ := newTestDispatcher(t, fwd)

	sender := &capturingSender{}
	d.Handle(context.Background(), buildQuery(0x4444, "broken.example."), testFrom, sender)

	got := sender.last()
	if got == nil {
		t.Fatal("expected the raw ServFail reply to reach the client")
	}
	if got.ID != 0x4444 {
		t.Errorf("reply ID = %#x, want client's original ID 0x4444", got.ID)
	}
	if got.Flags.Rcode != dnsmessage.RcodeServFail {
		t.Errorf("reply Rcode = %v, want RcodeServFail", got.Flags.Rcode)
	}

	// A follow-up identical query must hit the forwarder again, not the cache.
	d.Handle(context.Background(), buildQuery(0x5555, "broken.example."), testFrom, sender)
	if fwd.calls.Load() != 2 {
		t.Errorf("forwarder called %d times across 2 queries, want 2 (ServFail must not be cached)", fwd.calls.Load())
	}
}

// TestHandleSuppressesReplyOnForwarderTimeout covers the UpstreamTimeout /
// UpstreamUnreachable policy: no reply is sent to the client at all.
func TestHandleSuppressesReplyOnForwarderTimeout(t *testing.T) {
	fwd := &fakeForwarder{failure: true}
	d, _ := newTestDispatcher(t, fwd)

	sender := &capturingSender{}
	d.Handle(context.Background(), buildQuery(0x6666, "unreachable.example."), testFrom, sender)

	if sender.count() != 0 {
		t.Errorf("expected no reply on forwarder timeout, got %d", sender.count())
	}
}
