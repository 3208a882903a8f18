// Package forwarder implements the resolver's single upstream UDP client: it
// builds a request for one question, sends it to the configured forwarder,
// and collects the reply, including the deliberately preserved quirk of
// treating a truncated (TC-bit) reply as "append and keep reading" rather
// than retrying over TCP.
package forwarder

import (
	"fmt"
	"net"
	"time"

	"github.com/dnscached/dnscached/internal/dnsmessage"
	"github.com/dnscached/dnscached/internal/queryid"
	"github.com/dnscached/dnscached/internal/wirepool"
)

const readTimeout = time.Second

// Client talks to a single upstream resolver over UDP.
type Client struct {
	addr *net.UDPAddr
}

// New resolves addr (host or host:port, default port 53) once at
// construction time. Per the server startup contract, failure to resolve the
// forwarder is fatal to the caller, not to Client itself.
func New(addr string) (*Client, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, "53"
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("forwarder: resolving %q: %w", host, err)
	}
	udpAddr := &net.UDPAddr{IP: ips[0], Port: mustAtoi(port)}
	return &Client{addr: udpAddr}, nil
}

func mustAtoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

// Query sends a single question upstream and returns every reply message
// collected for it. A TC=1 reply is appended to the result and reading
// continues, rather than upgrading to TCP; the caller sees however many
// messages were collected once a non-truncated reply arrives or the 1s read
// deadline lapses with nothing further pending.
func (c *Client) Query(q dnsmessage.Question, rd bool) ([]*dnsmessage.Message, error) {
	conn, err := net.DialUDP("udp", nil, c.addr)
	if err != nil {
		return nil, fmt.Errorf("forwarder: dialing %s: %w", c.addr, err)
	}
	defer conn.Close()

	// A dotted IPv4 literal is rewritten to its IN-ADDR.ARPA form and
	// forced to qtype=PTR regardless of what the client originally asked
	// for; ReverseName is a no-op on anything that isn't a literal.
	name, qtype := q.Name, q.Type
	if reversed := dnsmessage.ReverseName(q.Name); reversed != q.Name {
		name, qtype = reversed, dnsmessage.TypePTR
	}
	req := dnsmessage.BuildRequest(queryid.TransactionID(), name, qtype, q.Class, rd)
	raw, err := req.Emit()
	if err != nil {
		return nil, fmt.Errorf("forwarder: building request: %w", err)
	}
	if _, err := conn.Write(raw); err != nil {
		return nil, fmt.Errorf("forwarder: sending request: %w", err)
	}

	var results []*dnsmessage.Message
	buf := wirepool.GetBuffer()
	defer wirepool.PutBuffer(buf)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return results, err
		}
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return results, nil
			}
			return results, err
		}

		reply, err := dnsmessage.Parse(buf[:n])
		if err != nil {
			return results, fmt.Errorf("forwarder: parsing reply: %w", err)
		}

		if reply.Flags.TC {
			results = append(results, reply)
			continue
		}
		return append(results, reply), nil
	}
}
