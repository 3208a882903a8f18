package dnsmessage

import (
	"encoding/binary"
	"fmt"
	"net"
)

// RData is the parsed form of a resource record's payload. The concrete type
// depends on the record's Type; unrecognized types and HINFO are carried as
// Opaque. Emission never consults RData — ResourceRecord.RawRData is always
// what goes on the wire.
type RData interface {
	isRData()
	String() string
}

type RDataA net.IP

func (RDataA) isRData() {}
func (r RDataA) String() string {
	return net.IP(r).String()
}

type RDataAAAA net.IP

func (RDataAAAA) isRData() {}
func (r RDataAAAA) String() string {
	return net.IP(r).String()
}

// RDataName covers the several record types whose entire RDATA is a single
// (possibly compressed) domain name: NS, CNAME, PTR.
type RDataName struct {
	Name string
}

func (RDataName) isRData() {}
func (r RDataName) String() string { return r.Name }

type RDataMX struct {
	Preference uint16
	Exchange   string
}

func (RDataMX) isRData() {}
func (r RDataMX) String() string {
	return fmt.Sprintf("%d %s", r.Preference, r.Exchange)
}

type RDataSOA struct {
	MName   string
	RName   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

func (RDataSOA) isRData() {}
func (r RDataSOA) String() string {
	return fmt.Sprintf("%s %s %d %d %d %d %d", r.MName, r.RName, r.Serial, r.Refresh, r.Retry, r.Expire, r.Minimum)
}

// RDataOpaque is used for HINFO and any type this codec does not otherwise
// interpret. The raw bytes are preserved verbatim in ResourceRecord.RawRData
// regardless; this is only a readable view of the same bytes.
type RDataOpaque struct {
	Raw []byte
}

func (RDataOpaque) isRData() {}
func (r RDataOpaque) String() string { return fmt.Sprintf("%x", r.Raw) }

// decodeRData parses a record's RDATA given the full message buffer (names
// embedded in RDATA may point anywhere earlier in the message), the RDATA's
// start offset and length, and the record type.
func decodeRData(msg []byte, offset, rdlength int, rtype Type) (RData, error) {
	if offset+rdlength > len(msg) {
		return nil, errTruncatedName
	}
	raw := msg[offset : offset+rdlength]

	switch rtype {
	case TypeA:
		if rdlength != 4 {
			return nil, fmt.Errorf("dnsmessage: A record RDATA must be 4 bytes, got %d", rdlength)
		}
		ip := make(net.IP, 4)
		copy(ip, raw)
		return RDataA(ip), nil

	case TypeAAAA:
		if rdlength != 16 {
			return nil, fmt.Errorf("dnsmessage: AAAA record RDATA must be 16 bytes, got %d", rdlength)
		}
		ip := make(net.IP, 16)
		copy(ip, raw)
		return RDataAAAA(ip), nil

	case TypeNS, TypeCNAME, TypePTR:
		name, _, err := decodeName(msg, offset)
		if err != nil {
			return nil, err
		}
		return RDataName{Name: name}, nil

	case TypeMX:
		if rdlength < 3 {
			return nil, fmt.Errorf("dnsmessage: MX record RDATA too short: %d", rdlength)
		}
		pref := binary.BigEndian.Uint16(raw[:2])
		exchange, _, err := decodeName(msg, offset+2)
		if err != nil {
			return nil, err
		}
		return RDataMX{Preference: pref, Exchange: exchange}, nil

	case TypeSOA:
		mname, next, err := decodeName(msg, offset)
		if err != nil {
			return nil, err
		}
		rname, next, err := decodeName(msg, next)
		if err != nil {
			return nil, err
		}
		if next+20 > len(msg) {
			return nil, fmt.Errorf("dnsmessage: SOA record RDATA truncated")
		}
		return RDataSOA{
			MName:   mname,
			RName:   rname,
			Serial:  binary.BigEndian.Uint32(msg[next : next+4]),
			Refresh: binary.BigEndian.Uint32(msg[next+4 : next+8]),
			Retry:   binary.BigEndian.Uint32(msg[next+8 : next+12]),
			Expire:  binary.BigEndian.Uint32(msg[next+12 : next+16]),
			Minimum: binary.BigEndian.Uint32(msg[next+16 : next+20]),
		}, nil

	default: // includes HINFO
		cp := make([]byte, rdlength)
		copy(cp, raw)
		return RDataOpaque{Raw: cp}, nil
	}
}
