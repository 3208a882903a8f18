package dnsmessage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	maxLabelLength  = 63
	maxDomainLength = 255
	maxPointerHops  = 20 // bounds compression-pointer loops
)

var (
	errLabelTooLong    = errors.New("dnsmessage: label exceeds 63 octets")
	errDomainTooLong   = errors.New("dnsmessage: domain name exceeds 255 octets")
	errTooManyPointers = errors.New("dnsmessage: too many compression pointers")
	errTruncatedName   = errors.New("dnsmessage: truncated name")
	errBadPointer      = errors.New("dnsmessage: compression pointer out of range")
)

func lowerFQDN(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, ".")) + "."
}

// decodeName reads a domain name starting at offset, following compression
// pointers as needed, and returns the textual name and the offset immediately
// past the name as it appears at the original starting position (i.e. past
// the first pointer encountered, not past any pointer target).
func decodeName(msg []byte, offset int) (string, int, error) {
	var labels []string
	origOffset := -1
	cur := offset
	hops := 0

	for {
		if cur >= len(msg) {
			return "", 0, errTruncatedName
		}
		b := msg[cur]

		switch {
		case b == 0:
			cur++
			if origOffset == -1 {
				origOffset = cur
			}
			name := strings.Join(labels, ".")
			if name == "" {
				name = "."
			} else {
				name += "."
			}
			if len(name) > maxDomainLength {
				return "", 0, errDomainTooLong
			}
			return name, origOffset, nil

		case b&0xC0 == 0xC0:
			if cur+1 >= len(msg) {
				return "", 0, errTruncatedName
			}
			hops++
			if hops > maxPointerHops {
				return "", 0, errTooManyPointers
			}
			ptr := (int(b&0x3F) << 8) | int(msg[cur+1])
			if ptr >= len(msg) {
				return "", 0, errBadPointer
			}
			if origOffset == -1 {
				origOffset = cur + 2
			}
			cur = ptr

		case b&0xC0 == 0:
			length := int(b)
			if length > maxLabelLength {
				return "", 0, errLabelTooLong
			}
			cur++
			if cur+length > len(msg) {
				return "", 0, errTruncatedName
			}
			labels = append(labels, encodeLabelText(msg[cur:cur+length]))
			cur += length

		default:
			return "", 0, fmt.Errorf("dnsmessage: reserved label type 0x%02x", b&0xC0)
		}
	}
}

// encodeLabelText converts raw label octets into their textual form, escaping
// any octet outside 0x21-0x7E as \NNN and prefixing '.' and '\\' with a
// backslash.
func encodeLabelText(raw []byte) string {
	var b strings.Builder
	for _, c := range raw {
		switch {
		case c == '.' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c < 0x21 || c > 0x7E:
			fmt.Fprintf(&b, "\\%03d", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// encodeName renders a textual domain name (as produced by decodeName, with
// \NNN and \. escapes) back into wire-format labels. Compression is never
// emitted: every name this codec writes is written out in full.
func encodeName(name string) ([]byte, error) {
	labels, err := splitLabels(name)
	if err != nil {
		return nil, err
	}
	total := 1
	for _, l := range labels {
		total += len(l) + 1
	}
	if total > maxDomainLength {
		return nil, errDomainTooLong
	}
	out := make([]byte, 0, total)
	for _, l := range labels {
		if len(l) > maxLabelLength {
			return nil, errLabelTooLong
		}
		out = append(out, byte(len(l)))
		out = append(out, l...)
	}
	out = append(out, 0)
	return out, nil
}

// splitLabels splits a textual domain name on unescaped '.' boundaries and
// decodes any \NNN or \X escape within each label into its raw octet.
func splitLabels(name string) ([][]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return nil, nil
	}
	var labels [][]byte
	var cur []byte
	runes := []rune(name)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\\' && i+1 < len(runes) && isDigit(runes[i+1]):
			// Decimal escape, 1-3 digits (RFC 1035 allows \DDD to be
			// written without leading zeros, not just the padded \NNN
			// this codec emits on decode).
			j := i + 1
			for j < len(runes) && j < i+4 && isDigit(runes[j]) {
				j++
			}
			n, err := strconv.Atoi(string(runes[i+1 : j]))
			if err != nil || n > 255 {
				return nil, fmt.Errorf("dnsmessage: invalid escape in %q", name)
			}
			cur = append(cur, byte(n))
			i = j - 1
		case c == '\\' && i+1 < len(runes):
			cur = append(cur, byte(runes[i+1]))
			i++
		case c == '.':
			labels = append(labels, cur)
			cur = nil
		default:
			cur = append(cur, string(c)...)
		}
	}
	labels = append(labels, cur)
	return labels, nil
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
