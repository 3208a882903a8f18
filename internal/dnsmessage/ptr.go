package dnsmessage

import (
	"fmt"
	"net"
	"strings"
)

// ReverseName rewrites a dotted-quad IPv4 literal into its IN-ADDR.ARPA form
// (octets reversed, .in-addr.arpa. appended) for use in a PTR question. If
// name is not a dotted IPv4 literal it is returned unchanged.
func ReverseName(name string) string {
	ip := net.ParseIP(strings.TrimSuffix(name, "."))
	if ip == nil {
		return name
	}
	v4 := ip.To4()
	if v4 == nil {
		return name
	}
	return fmt.Sprintf("%d.%d.%d.%d.in-addr.arpa.", v4[3], v4[2], v4[1], v4[0])
}
