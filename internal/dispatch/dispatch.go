// Package dispatch implements the resolver's per-datagram decision logic:
// access control, rate limiting, request de-duplication, cache lookup,
// upstream forwarding, and reply construction.
package dispatch

import (
	"context"
	"net"
	"time"

	"github.com/dnscached/dnscached/internal/acl"
	"github.com/dnscached/dnscached/internal/cache"
	"github.com/dnscached/dnscached/internal/dnsmessage"
	"github.com/dnscached/dnscached/internal/eventbus"
	"github.com/dnscached/dnscached/internal/metrics"
	"github.com/dnscached/dnscached/internal/queryid"
	"github.com/dnscached/dnscached/internal/ratelimit"
	"github.com/dnscached/dnscached/internal/wirepool"
)

// Sender delivers a reply datagram to a client address. *net.UDPConn
// satisfies this via WriteToUDP.
type Sender interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Forwarder resolves one question against an upstream server. *forwarder.Client
// satisfies this.
type Forwarder interface {
	Query(q dnsmessage.Question, rd bool) ([]*dnsmessage.Message, error)
}

// Dispatcher ties the cache, forwarder, and optional guards together into
// the single per-query decision path.
type Dispatcher struct {
	cache   *cache.Cache
	fwd     Forwarder
	hasher  *queryid.Hasher
	limiter *ratelimit.Limiter // nil disables rate limiting
	acl     *acl.ACL           // nil disables access control
	bus     *eventbus.Bus
}

// New builds a Dispatcher. limiter and aclGate may be nil to disable those
// checks entirely.
func New(c *cache.Cache, fwd Forwarder, hasher *queryid.Hasher, limiter *ratelimit.Limiter, aclGate *acl.ACL, bus *eventbus.Bus) *Dispatcher {
	return &Dispatcher{cache: c, fwd: fwd, hasher: hasher, limiter: limiter, acl: aclGate, bus: bus}
}

// Handle processes one inbound datagram from from and, if a reply is
// warranted, writes it back through sender. data is owned by the caller; it
// is not retained past this call.
func (d *Dispatcher) Handle(ctx context.Context, data []byte, from *net.UDPAddr, sender Sender) {
	start := time.Now()
	defer func() { metrics.QueryDuration.Observe(time.Since(start).Seconds()) }()

	if d.acl != nil && !d.acl.IsAllowed(from.IP) {
		metrics.QueriesTotal.WithLabelValues(metrics.ResultACLDenied).Inc()
		d.publish(eventbus.TopicServer, eventbus.ServerEvent{ClientIP: from.IP.String(), Reason: "acl_denied"})
		return
	}
	if d.limiter != nil && !d.limiter.Allow(from.IP) {
		metrics.QueriesTotal.WithLabelValues(metrics.ResultRateLimited).Inc()
		d.publish(eventbus.TopicServer, eventbus.ServerEvent{ClientIP: from.IP.String(), Reason: "rate_limited"})
		return
	}

	query, err := dnsmessage.Parse(data)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(metrics.ResultParseError).Inc()
		return
	}
	if len(query.Question) == 0 {
		return
	}

	key := d.hasher.QuestionSet(query.Question)
	if !d.cache.BeginInFlight(key) {
		metrics.QueriesTotal.WithLabelValues(metrics.ResultDedupDrop).Inc()
		return
	}
	defer d.cache.EndInFlight(key)

	var answer, authority, additional []dnsmessage.ResourceRecord
	rcode := dnsmessage.RcodeNoError
	suppressReply := false

	for _, q := range query.Question {
		hitAnswer, hitAuthority, hitAdditional := d.cache.Lookup(q)
		if len(hitAnswer) > 0 {
			metrics.QueriesTotal.WithLabelValues(metrics.ResultHit).Inc()
			answer = append(answer, hitAnswer...)
			authority = append(authority, hitAuthority...)
			additional = append(additional, hitAdditional...)
			continue
		}

		metrics.QueriesTotal.WithLabelValues(metrics.ResultMiss).Inc()
		replies, err := d.fwd.Query(q, query.Flags.RD)
		if err != nil || len(replies) == 0 {
			// UpstreamTimeout / UpstreamUnreachable: no reply is sent to
			// the client at all; the in-flight key is released on return.
			metrics.ForwarderRequestsTotal.WithLabelValues(metrics.OutcomeTimeout).Inc()
			d.publish(eventbus.TopicForwarder, eventbus.ForwarderEvent{Question: q.Name, Outcome: "timeout"})
			suppressReply = true
			break
		}

		fwdReply := replies[len(replies)-1]
		rcode = fwdReply.Flags.Rcode
		if fwdReply.Flags.Rcode == dnsmessage.RcodeNoError {
			metrics.ForwarderRequestsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
			d.cache.Insert(q.Name, fwdReply.Answer, fwdReply.Authority, fwdReply.Additional)
			d.publish(eventbus.TopicCache, eventbus.CacheEvent{Owner: q.Name})
		} else {
			// UpstreamRcodeError: the upstream RCODE and records are
			// relayed to the client, but never cached.
			metrics.ForwarderRequestsTotal.WithLabelValues(metrics.OutcomeRcodeError).Inc()
			d.publish(eventbus.TopicForwarder, eventbus.ForwarderEvent{Question: q.Name, Outcome: "rcode_error"})
		}

		answer = append(answer, fwdReply.Answer...)
		authority = append(authority, fwdReply.Authority...)
		additional = append(additional, fwdReply.Additional...)

		// A forwarded query decides the whole datagram's reply; further
		// questions in the same message are not separately resolved. The
		// reply is rebuilt by sendReply from the last collected upstream
		// message's RCODE and records: the upstream header flags other than
		// RCODE are not copied, and earlier TC=1 replies are not sent.
		break
	}

	if suppressReply {
		return
	}
	d.sendReply(query, rcode, answer, authority, additional, from, sender)
}

func (d *Dispatcher) sendReply(query *dnsmessage.Message, rcode dnsmessage.Rcode, answer, authority, additional []dnsmessage.ResourceRecord, from *net.UDPAddr, sender Sender) {
	msg := wirepool.GetMessage()
	defer wirepool.PutMessage(msg)

	msg.ID = query.ID
	msg.Flags = dnsmessage.Flags{
		QR:     true,
		Opcode: query.Flags.Opcode,
		RD:     query.Flags.RD,
		Rcode:  rcode,
	}
	msg.Question = query.Question
	msg.Answer = answer
	msg.Authority = authority
	msg.Additional = additional

	raw, err := msg.Emit()
	if err != nil {
		return
	}
	sender.WriteToUDP(raw, from)
}

func (d *Dispatcher) publish(topic eventbus.Topic, data interface{}) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(topic, data)
}
