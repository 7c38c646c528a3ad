//go:build unix

package socket

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// resolveInet4 turns a literal IPv4 address or host name into a sockaddr.
// An empty host or "0.0.0.0" selects INADDR_ANY.
func resolveInet4(host string, port int) (*unix.SockaddrInet4, error) {
	if port < 0 || port > 0xFFFF {
		return nil, errors.Wrapf(ErrUnsupportedAddress, "port %d out of range", port)
	}
	sa := &unix.SockaddrInet4{Port: port}
	if host == "" {
		return sa, nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve %s", host)
		}
		for _, candidate := range ips {
			if candidate.To4() != nil {
				ip = candidate
				break
			}
		}
		if ip == nil {
			return nil, errors.Wrapf(ErrUnsupportedAddress, "no IPv4 address for %s", host)
		}
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return nil, errors.Wrapf(ErrUnsupportedAddress, "%s is not IPv4", host)
	}
	copy(sa.Addr[:], ip4)
	return sa, nil
}

// hostPort converts a kernel sockaddr into a printable host and a port.
func hostPort(sa unix.Sockaddr) (string, int, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(v.Addr[:]).String(), v.Port, nil
	case *unix.SockaddrInet6:
		return net.IP(v.Addr[:]).String(), v.Port, nil
	default:
		return "", 0, errors.Wrapf(ErrUnsupportedAddress, "sockaddr %T", sa)
	}
}

// JoinHostPort formats host and port the way net.JoinHostPort does.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
