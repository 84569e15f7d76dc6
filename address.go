package mqlink

import (
	"net"
	"strconv"
	"strings"
)

// Default ports used when the address does not carry one.
const (
	DefaultMQTTPort          = 1883
	DefaultSecureMQTTPort    = 8883
	DefaultWebSocketPort     = 80
	DefaultSecureWebSockPort = 443
	DefaultProxyPort         = 8080
)

// NoPort can be passed as the default port to ParseAddress when the caller
// needs to know whether a port was given.
const NoPort = -1

// Endpoint is the parsed form of a host[:port][/topic] string.
//
// Host and Topic are substrings of the parsed string, not copies.
type Endpoint struct {
	// Host is the host name or IP literal, IPv6 brackets stripped.
	Host string

	// Port is the explicit port, or the default passed to ParseAddress.
	Port int

	// HasPort reports whether the string carried an explicit port.
	HasPort bool

	// Topic is the suffix starting at '/', when requested and present.
	Topic string
}

// HostPort joins host and port, bracketing IPv6 literals.
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseAddress splits a host[:port][/topic] string.
//
// The port separator is the last ':' because IPv6 literals contain colons;
// in a bracketed literal, a colon before the closing ']' belongs to the
// address. When withTopic is set, the part starting at the first '/' after
// the port separator (or after the start, when there is no port) is
// returned as Topic. The host always ends before that '/'.
//
// An empty string yields an empty Host; callers validate.
func ParseAddress(uri string, defaultPort int, withTopic bool) Endpoint {
	ep := Endpoint{Port: defaultPort}
	if uri == "" {
		return ep
	}

	colon := strings.LastIndexByte(uri, ':')
	if uri[0] == '[' && colon < strings.LastIndexByte(uri, ']') {
		colon = -1
	}

	end := len(uri)
	from := 0
	if colon >= 0 {
		end = colon
		from = colon
		ep.Port = leadingInt(uri[colon+1:])
		ep.HasPort = true
	}

	if slash := strings.IndexByte(uri[from:], '/'); slash >= 0 {
		slash += from
		if withTopic {
			ep.Topic = uri[slash:]
		}
		if colon < 0 {
			end = slash
		}
	}

	if end > 0 && uri[end-1] == ']' {
		end--
	}
	start := 0
	if uri[0] == '[' && end > 0 {
		start = 1
	}
	ep.Host = uri[start:end]
	return ep
}

// leadingInt parses the decimal digits at the start of s, ignoring anything
// after them. It returns 0 when s does not start with a digit.
func leadingInt(s string) int {
	n := 0
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
		if n > 0xFFFFFF {
			return n
		}
	}
	return n
}
