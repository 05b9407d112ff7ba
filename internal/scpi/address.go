package scpi

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultSocketPort is the SCPI raw socket port used by LAN instruments.
const DefaultSocketPort = "5025"

// Address identifies an instrument endpoint.
//
//	tcp://192.168.1.10:5025
//	serial:///dev/ttyUSB0?baud=115200&parity=N
type Address struct {
	Scheme  string // "tcp" or "serial"
	Target  string // host:port or device path
	Options PortOptions
}

func (a Address) String() string {
	if a.Scheme == "serial" {
		return "serial://" + a.Target
	}
	return a.Scheme + "://" + a.Target
}

// ParseAddress parses an instrument address. A bare host or host:port is
// treated as a raw socket address.
func ParseAddress(raw string) (Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Address{}, fmt.Errorf("empty instrument address")
	}
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Address{}, fmt.Errorf("invalid instrument address %q: %w", raw, err)
	}

	switch u.Scheme {
	case "tcp":
		if u.Host == "" {
			return Address{}, fmt.Errorf("instrument address %q has no host", raw)
		}
		host := u.Host
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), DefaultSocketPort)
		}
		return Address{Scheme: "tcp", Target: host}, nil

	case "serial":
		if u.Path == "" {
			return Address{}, fmt.Errorf("instrument address %q has no device path", raw)
		}
		q := u.Query()
		opts := PortOptions{Parity: q.Get("parity")}
		for key, dst := range map[string]*int{
			"baud":     &opts.BaudRate,
			"databits": &opts.DataBits,
			"stopbits": &opts.StopBits,
		} {
			if v := q.Get(key); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return Address{}, fmt.Errorf("invalid %s %q in %q", key, v, raw)
				}
				*dst = n
			}
		}
		opts, err := opts.Normalise()
		if err != nil {
			return Address{}, err
		}
		return Address{Scheme: "serial", Target: u.Path, Options: opts}, nil

	default:
		return Address{}, fmt.Errorf("unsupported instrument scheme %q", u.Scheme)
	}
}
