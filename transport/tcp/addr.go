package tcp

import (
	"context"
	"net"
	"net/netip"
	"strconv"

	"coronet/transport"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type Addr struct {
	ip   netip.Addr
	port uint16
}

var _ transport.Addr = Addr{}

func NewAddr(ip netip.Addr, port uint16) Addr {
	return Addr{ip: ip, port: port}
}

func (a Addr) IP() netip.Addr  { return a.ip }
func (a Addr) Port() uint16    { return a.port }
func (a Addr) Identifier() any { return a.port }

func (a Addr) String() string {
	host := a.ip.String()
	if a.ip.Is6() {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.FormatUint(uint64(a.port), 10)
}

// resolveHost turns host into an IP address. Numeric literals are used
// as-is; names go through the resolver, preferring IPv4 results. An
// empty host means the unspecified IPv4 address (for binds).
func resolveHost(ctx context.Context, host string) (netip.Addr, error) {
	if host == "" {
		return netip.IPv4Unspecified(), nil
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		return ip.Unmap(), nil
	}

	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "resolving host %q", host)
	}

	for _, ip := range ips {
		if ip.Is4() || ip.Is4In6() {
			return ip.Unmap(), nil
		}
	}
	return ips[0].Unmap(), nil
}

func toSockaddr(ip netip.Addr, port uint16) unix.Sockaddr {
	if ip.Is4() {
		return &unix.SockaddrInet4{Port: int(port), Addr: ip.As4()}
	}
	return &unix.SockaddrInet6{Port: int(port), Addr: ip.As16()}
}

func fromSockaddr(sa unix.Sockaddr) Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return NewAddr(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return NewAddr(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	}
	return Addr{}
}

func family(ip netip.Addr) int {
	if ip.Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}
