// Package dnsmessage implements the RFC 1035 DNS wire format: names with
// compression pointers, per-type RDATA, and full message parsing/emission.
package dnsmessage

import "fmt"

// Type is a DNS resource record / question type (RFC 1035 section 3.2.2).
type Type uint16

const (
	TypeA     Type = 1
	TypeNS    Type = 2
	TypeCNAME Type = 5
	TypeSOA   Type = 6
	TypePTR   Type = 12
	TypeHINFO Type = 13
	TypeMX    Type = 15
	TypeAAAA  Type = 28
	TypeAXFR  Type = 252
	TypeANY   Type = 255
)

var typeNames = map[Type]string{
	TypeA:     "A",
	TypeNS:    "NS",
	TypeCNAME: "CNAME",
	TypeSOA:   "SOA",
	TypePTR:   "PTR",
	TypeHINFO: "HINFO",
	TypeMX:    "MX",
	TypeAAAA:  "AAAA",
	TypeAXFR:  "AXFR",
	TypeANY:   "ANY",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TYPE%d", uint16(t))
}

// Class is a DNS class (RFC 1035 section 3.2.4).
type Class uint16

const (
	ClassIN  Class = 1
	ClassANY Class = 255
)

func (c Class) String() string {
	switch c {
	case ClassIN:
		return "IN"
	case ClassANY:
		return "ANY"
	default:
		return fmt.Sprintf("CLASS%d", uint16(c))
	}
}

// Opcode is the 4-bit OPCODE header field.
type Opcode uint8

const (
	OpcodeQuery  Opcode = 0
	OpcodeIQuery Opcode = 1
	OpcodeStatus Opcode = 2
)

// Rcode is the 4-bit RCODE header field.
type Rcode uint8

const (
	RcodeNoError  Rcode = 0
	RcodeFormErr  Rcode = 1
	RcodeServFail Rcode = 2
	RcodeNXDomain Rcode = 3
	RcodeNotImp   Rcode = 4
	RcodeRefused  Rcode = 5
)

// Flags is the packed 16-bit flags word, unpacked into its fields.
type Flags struct {
	QR     bool
	Opcode Opcode
	AA     bool
	TC     bool
	RD     bool
	RA     bool
	Z      uint8 // 3 bits, must stay zero on emission
	Rcode  Rcode
}

func (f Flags) pack() uint16 {
	var v uint16
	if f.QR {
		v |= 1 << 15
	}
	v |= uint16(f.Opcode&0xF) << 11
	if f.AA {
		v |= 1 << 10
	}
	if f.TC {
		v |= 1 << 9
	}
	if f.RD {
		v |= 1 << 8
	}
	if f.RA {
		v |= 1 << 7
	}
	v |= uint16(f.Z&0x7) << 4
	v |= uint16(f.Rcode & 0xF)
	return v
}

func unpackFlags(v uint16) Flags {
	return Flags{
		QR:     v&(1<<15) != 0,
		Opcode: Opcode((v >> 11) & 0xF),
		AA:     v&(1<<10) != 0,
		TC:     v&(1<<9) != 0,
		RD:     v&(1<<8) != 0,
		RA:     v&(1<<7) != 0,
		Z:      uint8((v >> 4) & 0x7),
		Rcode:  Rcode(v & 0xF),
	}
}

// Question is a single entry in the question section. Equality and hashing
// use the (name, type, class) triple with the name compared case-insensitively
// via Key.
type Question struct {
	Name  string
	Type  Type
	Class Class
}

// Key returns the canonical lowercase form used for cache and dedup lookups.
func (q Question) Key() string {
	return lowerFQDN(q.Name) + "|" + q.Type.String() + "|" + q.Class.String()
}

// ResourceRecord is a single resource record. RawRData is the verbatim wire
// payload captured at parse time; emission always uses RawRData so that
// replies are byte-identical to what was received, even when RData is a
// lossy parse of an unknown type.
type ResourceRecord struct {
	Name     string
	Type     Type
	Class    Class
	TTL      uint32
	RData    RData
	RawRData []byte
}

// recordKey is the equality/identity key for a ResourceRecord: owner name,
// type, class and the raw wire payload. TTL is deliberately excluded so a
// re-insert refreshes the cached entry instead of duplicating it.
type recordKey struct {
	name  string
	typ   Type
	class Class
	raw   string
}

func (rr ResourceRecord) key() recordKey {
	return recordKey{
		name:  lowerFQDN(rr.Name),
		typ:   rr.Type,
		class: rr.Class,
		raw:   string(rr.RawRData),
	}
}

// Header is the 12-byte DNS message header.
type Header struct {
	ID      uint16
	Flags   Flags
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Message is a full parsed (or to-be-emitted) DNS message.
type Message struct {
	ID         uint16
	Flags      Flags
	Question   []Question
	Answer     []ResourceRecord
	Authority  []ResourceRecord
	Additional []ResourceRecord
}
