package dnsmessage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	headerSize    = 12
	maxSections   = 4096 // guards against counts that lie about a short packet
	MaxUDPMessage = 512  // classic RFC 1035 UDP payload cap, no EDNS0
)

var (
	errMessageTooShort = errors.New("dnsmessage: message shorter than header")
	errSectionCount    = errors.New("dnsmessage: section count exceeds message size")
)

// Parse decodes a full DNS message from wire format.
func Parse(buf []byte) (*Message, error) {
	if len(buf) < headerSize {
		return nil, errMessageTooShort
	}

	id := binary.BigEndian.Uint16(buf[0:2])
	flags := unpackFlags(binary.BigEndian.Uint16(buf[2:4]))
	qdCount := binary.BigEndian.Uint16(buf[4:6])
	anCount := binary.BigEndian.Uint16(buf[6:8])
	nsCount := binary.BigEndian.Uint16(buf[8:10])
	arCount := binary.BigEndian.Uint16(buf[10:12])

	if int(qdCount) > maxSections || int(anCount) > maxSections ||
		int(nsCount) > maxSections || int(arCount) > maxSections {
		return nil, errSectionCount
	}

	m := &Message{ID: id, Flags: flags}
	offset := headerSize

	var err error
	m.Question, offset, err = parseQuestions(buf, offset, int(qdCount))
	if err != nil {
		return nil, fmt.Errorf("dnsmessage: parsing question section: %w", err)
	}
	m.Answer, offset, err = parseRRs(buf, offset, int(anCount))
	if err != nil {
		return nil, fmt.Errorf("dnsmessage: parsing answer section: %w", err)
	}
	m.Authority, offset, err = parseRRs(buf, offset, int(nsCount))
	if err != nil {
		return nil, fmt.Errorf("dnsmessage: parsing authority section: %w", err)
	}
	m.Additional, _, err = parseRRs(buf, offset, int(arCount))
	if err != nil {
		return nil, fmt.Errorf("dnsmessage: parsing additional section: %w", err)
	}

	return m, nil
}

func parseQuestions(buf []byte, offset, count int) ([]Question, int, error) {
	qs := make([]Question, 0, count)
	for i := 0; i < count; i++ {
		name, next, err := decodeName(buf, offset)
		if err != nil {
			return nil, 0, err
		}
		if next+4 > len(buf) {
			return nil, 0, errTruncatedName
		}
		qtype := Type(binary.BigEndian.Uint16(buf[next : next+2]))
		qclass := Class(binary.BigEndian.Uint16(buf[next+2 : next+4]))
		qs = append(qs, Question{Name: name, Type: qtype, Class: qclass})
		offset = next + 4
	}
	return qs, offset, nil
}

func parseRRs(buf []byte, offset, count int) ([]ResourceRecord, int, error) {
	rrs := make([]ResourceRecord, 0, count)
	for i := 0; i < count; i++ {
		name, next, err := decodeName(buf, offset)
		if err != nil {
			return nil, 0, err
		}
		if next+10 > len(buf) {
			return nil, 0, errTruncatedName
		}
		rtype := Type(binary.BigEndian.Uint16(buf[next : next+2]))
		rclass := Class(binary.BigEndian.Uint16(buf[next+2 : next+4]))
		ttl := binary.BigEndian.Uint32(buf[next+4 : next+8])
		rdlen := int(binary.BigEndian.Uint16(buf[next+8 : next+10]))
		rdataOffset := next + 10
		if rdataOffset+rdlen > len(buf) {
			return nil, 0, errTruncatedName
		}

		rdata, err := decodeRData(buf, rdataOffset, rdlen, rtype)
		if err != nil {
			return nil, 0, err
		}
		raw := make([]byte, rdlen)
		copy(raw, buf[rdataOffset:rdataOffset+rdlen])

		rrs = append(rrs, ResourceRecord{
			Name:     name,
			Type:     rtype,
			Class:    rclass,
			TTL:      ttl,
			RData:    rdata,
			RawRData: raw,
		})
		offset = rdataOffset + rdlen
	}
	return rrs, offset, nil
}

// Emit serializes the message to wire format. Names are always written out
// in full; no compression pointers are produced on emission.
func (m *Message) Emit() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(headerSize)

	hdr := make([]byte, headerSize)
	binary.BigEndian.PutUint16(hdr[0:2], m.ID)
	binary.BigEndian.PutUint16(hdr[2:4], m.Flags.pack())
	binary.BigEndian.PutUint16(hdr[4:6], uint16(len(m.Question)))
	binary.BigEndian.PutUint16(hdr[6:8], uint16(len(m.Answer)))
	binary.BigEndian.PutUint16(hdr[8:10], uint16(len(m.Authority)))
	binary.BigEndian.PutUint16(hdr[10:12], uint16(len(m.Additional)))
	buf.Write(hdr)

	for _, q := range m.Question {
		nameBytes, err := encodeName(q.Name)
		if err != nil {
			return nil, fmt.Errorf("dnsmessage: encoding question name %q: %w", q.Name, err)
		}
		buf.Write(nameBytes)
		var tail [4]byte
		binary.BigEndian.PutUint16(tail[0:2], uint16(q.Type))
		binary.BigEndian.PutUint16(tail[2:4], uint16(q.Class))
		buf.Write(tail[:])
	}

	for _, section := range [][]ResourceRecord{m.Answer, m.Authority, m.Additional} {
		for _, rr := range section {
			if err := encodeRR(&buf, rr); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

func encodeRR(buf *bytes.Buffer, rr ResourceRecord) error {
	nameBytes, err := encodeName(rr.Name)
	if err != nil {
		return fmt.Errorf("dnsmessage: encoding record name %q: %w", rr.Name, err)
	}
	buf.Write(nameBytes)

	var head [10]byte
	binary.BigEndian.PutUint16(head[0:2], uint16(rr.Type))
	binary.BigEndian.PutUint16(head[2:4], uint16(rr.Class))
	binary.BigEndian.PutUint32(head[4:8], rr.TTL)
	binary.BigEndian.PutUint16(head[8:10], uint16(len(rr.RawRData)))
	buf.Write(head[:])
	buf.Write(rr.RawRData)
	return nil
}

// BuildReply constructs a response message from a parsed query: it carries
// the query's ID, opcode and RD bit forward, sets QR=1, AA=0, RA=0, and
// attaches the given answer/authority/additional records under the given
// rcode.
func BuildReply(query *Message, rcode Rcode, answer, authority, additional []ResourceRecord) *Message {
	return &Message{
		ID: query.ID,
		Flags: Flags{
			QR:     true,
			Opcode: query.Flags.Opcode,
			AA:     false,
			TC:     false,
			RD:     query.Flags.RD,
			RA:     false,
			Rcode:  rcode,
		},
		Question:   query.Question,
		Answer:     answer,
		Authority:  authority,
		Additional: additional,
	}
}

// BuildRequest constructs an outbound query for name/qtype/qclass. Per the
// forwarder's IN-ADDR.ARPA convention, a dotted-quad name combined with
// TypePTR is left as-is (the caller is expected to have already converted it);
// BuildRequest itself performs no implicit rewriting.
func BuildRequest(id uint16, name string, qtype Type, qclass Class, rd bool) *Message {
	return &Message{
		ID: id,
		Flags: Flags{
			QR:     false,
			Opcode: OpcodeQuery,
			RD:     rd,
		},
		Question: []Question{{Name: name, Type: qtype, Class: qclass}},
	}
}
