// Package acl implements an optional allow/deny CIDR gate in front of the
// dispatcher. Disabled by default (default-allow, empty lists).
package acl

import (
	"net"
	"sync"
)

// ACL is an access control list of allow/deny networks with a default
// policy applied when no list matches.
type ACL struct {
	mu           sync.RWMutex
	allowedNets  []*net.IPNet
	deniedNets   []*net.IPNet
	defaultAllow bool
}

// New creates an ACL with the given default policy.
func New(defaultAllow bool) *ACL {
	return &ACL{defaultAllow: defaultAllow}
}

// AllowNet adds cidr (CIDR or a bare IP, treated as a /32 or /128) to the
// allow list.
func (a *ACL) AllowNet(cidr string) error {
	ipnet, err := parseNet(cidr)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowedNets = append(a.allowedNets, ipnet)
	return nil
}

// DenyNet adds cidr to the deny list.
func (a *ACL) DenyNet(cidr string) error {
	ipnet, err := parseNet(cidr)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deniedNets = append(a.deniedNets, ipnet)
	return nil
}

func parseNet(cidr string) (*net.IPNet, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err == nil {
		return ipnet, nil
	}
	ip := net.ParseIP(cidr)
	if ip == nil {
		return nil, err
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// IsAllowed evaluates ip against the deny list, then the allow list, then
// the default policy, in that order: an explicit deny always wins.
func (a *ACL) IsAllowed(ip net.IP) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, denied := range a.deniedNets {
		if denied.Contains(ip) {
			return false
		}
	}
	for _, allowed := range a.allowedNets {
		if allowed.Contains(ip) {
			return true
		}
	}
	return a.defaultAllow
}
