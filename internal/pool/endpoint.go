package pool

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Endpoint is one cluster node's address.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoints parses a comma separated list of host:port pairs.
func ParseEndpoints(hosts string) ([]Endpoint, error) {
	var endpoints []Endpoint
	for _, entry := range strings.Split(hosts, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return nil, fmt.Errorf("%w: empty entry in %q", ErrInvalidEndpoint, hosts)
		}

		host, portStr, err := net.SplitHostPort(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, entry, err)
		}
		host = strings.TrimSpace(host)
		if host == "" {
			return nil, fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, entry)
		}

		port, err := strconv.Atoi(strings.TrimSpace(portStr))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: bad port: %v", ErrInvalidEndpoint, entry, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("%w: %q: port out of range", ErrInvalidEndpoint, entry)
		}

		endpoints = append(endpoints, Endpoint{Host: host, Port: port})
	}
	return endpoints, nil
}
