package wire

import (
	"io"
	"net"

	"github.com/razenet/razed/util/binaryserializer"
)

// EndpointSize is the fixed on-wire size of an Endpoint: a 16-byte IPv6
// address followed by a little-endian port.
const EndpointSize = 18

// KeepalivePeerCount is the number of endpoint slots a keepalive message
// carries; unused slots are zero-padded.
const KeepalivePeerCount = 8

// Endpoint is a peer address normalized to IPv6, IPv4 addresses being
// represented as IPv4-mapped IPv6 (the standard ::ffff: prefix).
type Endpoint struct {
	Addr [16]byte
	Port uint16
}

// NewEndpoint builds an Endpoint from a net.IP and port, mapping IPv4
// addresses to IPv4-mapped IPv6 form.
func NewEndpoint(ip net.IP, port uint16) Endpoint {
	var e Endpoint
	v6 := ip.To16()
	if v6 != nil {
		copy(e.Addr[:], v6)
	}
	e.Port = port
	return e
}

// IsZero reports whether this is the zero-padding endpoint used to fill
// unused keepalive slots.
func (e Endpoint) IsZero() bool {
	return e.Addr == [16]byte{} && e.Port == 0
}

// IP returns the endpoint's address as a net.IP.
func (e Endpoint) IP() net.IP {
	ip := make(net.IP, 16)
	copy(ip, e.Addr[:])
	return ip
}

// UDPAddr returns the endpoint as a *net.UDPAddr.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: e.IP(), Port: int(e.Port)}
}

// Encode writes the endpoint to w.
func (e Endpoint) Encode(w io.Writer) error {
	if _, err := w.Write(e.Addr[:]); err != nil {
		return err
	}
	return binaryserializer.PutUint16(w, e.Port)
}

// DecodeEndpoint reads an Endpoint from r.
func DecodeEndpoint(r io.Reader) (Endpoint, error) {
	var e Endpoint
	if _, err := io.ReadFull(r, e.Addr[:]); err != nil {
		return e, err
	}
	port, err := binaryserializer.Uint16(r)
	if err != nil {
		return e, err
	}
	e.Port = port
	return e, nil
}
