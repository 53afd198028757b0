// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package conn

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// A Destination identifies the partition of the connection pool a
// request belongs to: the URL scheme and the host and port to connect
// to. Two requests with equal destinations may share a connection.
//
// Destination is comparable and may be used as a map key.
type Destination struct {
	// Scheme is either "http" or "https".
	Scheme string
	// Host is the lower-case host name or IP address, without brackets
	// around IPv6 addresses.
	Host string
	// Port is the numeric TCP port. It is never empty.
	Port string
}

// ErrNoHost is returned by DestinationOf for a URL without a host.
var ErrNoHost = errors.New("httpcall/conn: URL has no host")

// DestinationOf resolves the destination of an absolute http or https
// URL, filling in the default port for the scheme when the URL has
// none.
func DestinationOf(u *url.URL) (Destination, error) {
	if u == nil {
		return Destination{}, ErrNoHost
	}
	scheme := strings.ToLower(u.Scheme)
	var defaultPort string
	switch scheme {
	case "http":
		defaultPort = "80"
	case "https":
		defaultPort = "443"
	default:
		return Destination{}, fmt.Errorf("httpcall/conn: unsupported protocol scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Destination{}, ErrNoHost
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return Destination{Scheme: scheme, Host: host, Port: port}, nil
}

// TLS reports whether connections to d use TLS.
func (d Destination) TLS() bool {
	return d.Scheme == "https"
}

// Address returns the "host:port" network address of d.
func (d Destination) Address() string {
	return net.JoinHostPort(d.Host, d.Port)
}

func (d Destination) String() string {
	return d.Scheme + "://" + d.Address()
}
