package forwarder

import (
	"net"
	"testing"
	"time"

	"github.com/dnscached/dnscached/internal/dnsmessage"
)

// fakeUpstream starts a UDP listener that runs respond for each received
// datagram, and returns its address for use as a forwarder target.
func fakeUpstream(t *testing.T, respond func(query *dnsmessage.Message, from *net.UDPAddr, conn *net.UDPConn)) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 65535)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			query, err := dnsmessage.Parse(buf[:n])
			if err != nil {
				continue
			}
			respond(query, from, conn)
		}
	}()

	return conn.LocalAddr().String()
}

func TestQuerySingleReply(t *testing.T) {
	addr := fakeUpstream(t, func(query *dnsmessage.Message, from *net.UDPAddr, conn *net.UDPConn) {
		reply := dnsmessage.BuildReply(query, dnsmessage.RcodeNoError, []dnsmessage.ResourceRecord{
			{Name: query.Question[0].Name, Type: dnsmessage.TypeA, Class: dnsmessage.ClassIN, TTL: 60, RawRData: []byte{1, 2, 3, 4}},
		}, nil, nil)
		raw, _ := reply.Emit()
		conn.WriteToUDP(raw, from)
	})

	client, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	replies, err := client.Query(dnsmessage.Question{Name: "example.com.", Type: dnsmessage.TypeA, Class: dnsmessage.ClassIN}, true)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	if len(replies[0].Answer) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(replies[0].Answer))
	}
}

func TestQueryAppendsTruncatedRepliesAndContinues(t *testing.T) {
	addr := fakeUpstream(t, func(query *dnsmessage.Message, from *net.UDPAddr, conn *net.UDPConn) {
		// First reply: truncated, no answers. Second: final, with an answer.
		truncated := dnsmessage.BuildReply(query, dnsmessage.RcodeNoError, nil, nil, nil)
		truncated.Flags.TC = true
		raw, _ := truncated.Emit()
		conn.WriteToUDP(raw, from)

		final := dnsmessage.BuildReply(query, dnsmessage.RcodeNoError, []dnsmessage.ResourceRecord{
			{Name: query.Question[0].Name, Type: dnsmessage.TypeA, Class: dnsmessage.ClassIN, TTL: 60, RawRData: []byte{5, 6, 7, 8}},
		}, nil, nil)
		raw2, _ := final.Emit()
		conn.WriteToUDP(raw2, from)
	})

	client, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	replies, err := client.Query(dnsmessage.Question{Name: "example.com.", Type: dnsmessage.TypeA, Class: dnsmessage.ClassIN}, true)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("expected 2 collected replies (truncated + final), got %d", len(replies))
	}
	if !replies[0].Flags.TC {
		t.Error("first collected reply should have TC set")
	}
	if replies[1].Flags.TC {
		t.Error("second collected reply should not have TC set")
	}
}

func TestQueryRewritesIPv4LiteralToPTR(t *testing.T) {
	var gotName string
	var gotType dnsmessage.Type
	addr := fakeUpstream(t, func(query *dnsmessage.Message, from *net.UDPAddr, conn *net.UDPConn) {
		gotName = query.Question[0].Name
		gotType = query.Question[0].Type
		reply := dnsmessage.BuildReply(query, dnsmessage.RcodeNoError, nil, nil, nil)
		raw, _ := reply.Emit()
		conn.WriteToUDP(raw, from)
	})

	client, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Client asked for an A record on a literal IP; the upstream request
	// must be rewritten to a PTR query against the reverse zone.
	_, err = client.Query(dnsmessage.Question{Name: "1.1.1.1", Type: dnsmessage.TypeA, Class: dnsmessage.ClassIN}, true)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if gotName != "1.1.1.1.in-addr.arpa." {
		t.Errorf("upstream saw qname %q, want 1.1.1.1.in-addr.arpa.", gotName)
	}
	if gotType != dnsmessage.TypePTR {
		t.Errorf("upstream saw qtype %v, want PTR", gotType)
	}
}

func TestQueryTimesOutWithNoUpstream(t *testing.T) {
	// Bind a socket, grab its address, then close it so nothing answers.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := conn.LocalAddr().String()
	conn.Close()

	client, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	replies, err := client.Query(dnsmessage.Question{Name: "example.com.", Type: dnsmessage.TypeA, Class: dnsmessage.ClassIN}, true)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Query should time out quietly, got error: %v", err)
	}
	if len(replies) != 0 {
		t.Fatalf("expected no replies on timeout, got %d", len(replies))
	}
	if elapsed > 3*time.Second {
		t.Errorf("Query took %v, expected to respect ~1s read deadline", elapsed)
	}
}
