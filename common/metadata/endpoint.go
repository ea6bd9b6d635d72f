package metadata

import (
	"net"
	"net/netip"
	"strconv"

	E "github.com/sagernet/sing-async/common/exceptions"
)

// Endpoint identifies a remote address and port. It is an immutable value and
// carries no behavior beyond formatting and conversion.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

func (e Endpoint) IsValid() bool {
	return e.Addr.IsValid()
}

func (e Endpoint) AddrString() string {
	return e.Addr.String()
}

func (e Endpoint) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{
		IP:   e.Addr.AsSlice(),
		Port: int(e.Port),
	}
}

func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.Addr, e.Port)
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.AddrString(), strconv.Itoa(int(e.Port)))
}

func EndpointFrom(ip net.IP, port uint16) Endpoint {
	addr, _ := netip.AddrFromSlice(ip)
	return EndpointFromNetIP(netip.AddrPortFrom(addr, port))
}

func EndpointFromNetIP(ap netip.AddrPort) Endpoint {
	if ap.Addr().Is4In6() {
		return Endpoint{
			Addr: netip.AddrFrom4(ap.Addr().As4()),
			Port: ap.Port(),
		}
	}
	return Endpoint{
		Addr: ap.Addr(),
		Port: ap.Port(),
	}
}

func ParseEndpoint(address string) (Endpoint, error) {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return Endpoint{}, E.Cause(err, "parse endpoint ", address)
	}
	return EndpointFromNetIP(ap), nil
}
