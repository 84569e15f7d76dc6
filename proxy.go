package mqlink

import (
	"strings"
)

// Scheme selects the proxy slot: HTTP for plain connections, HTTPS for TLS
// connections.
type Scheme int

const (
	SchemeHTTP Scheme = iota
	SchemeHTTPS
)

func (s Scheme) String() string {
	if s == SchemeHTTPS {
		return "https"
	}
	return "http"
}

// ProxyTarget is an HTTP CONNECT proxy installed on a client.
type ProxyTarget struct {
	// Address is the proxy's host[:port], credentials and scheme removed.
	Address string

	// Auth is the Base64 Basic-Auth token, empty when the proxy URL had no
	// credentials.
	Auth string
}

// Endpoint parses Address, defaulting to DefaultProxyPort. A trailing path
// is ignored.
func (t *ProxyTarget) Endpoint() Endpoint {
	return ParseAddress(t.Address, DefaultProxyPort, true)
}

// ProxyConfig holds one proxy slot per scheme.
type ProxyConfig struct {
	HTTP  *ProxyTarget
	HTTPS *ProxyTarget
}

// slot returns the slot for the scheme.
func (p *ProxyConfig) slot(scheme Scheme) **ProxyTarget {
	if scheme == SchemeHTTPS {
		return &p.HTTPS
	}
	return &p.HTTP
}

// ParseProxySource parses a proxy setting of the form
// scheme://[user[:pass]@]host[:port][/].
//
// HTTP proxies may omit the "http://" prefix. HTTPS proxies must start with
// "http://" or "https://". Credentials may contain %XX escapes and are
// converted to a Basic-Auth token. The target is built completely before it
// is returned, so a failure never yields a partial proxy.
func ParseProxySource(source string, scheme Scheme) (*ProxyTarget, error) {
	rest, ok := strings.CutPrefix(source, "http://")
	if !ok && scheme == SchemeHTTPS {
		rest, ok = strings.CutPrefix(source, "https://")
		if !ok {
			return nil, configError("https proxy %q must start with http:// or https://", redactProxy(source))
		}
	}
	if strings.Contains(rest, "://") {
		return nil, configError("unsupported %s proxy scheme in %q", scheme, redactProxy(source))
	}

	target := &ProxyTarget{Address: rest}
	if credentials, host, found := strings.Cut(rest, "@"); found {
		target.Address = host
		if credentials != "" {
			token, err := EncodeBasicAuth(credentials)
			if err != nil {
				return nil, err
			}
			target.Auth = token
		}
	}

	if target.Endpoint().Host == "" {
		return nil, configError("%s proxy %q has no host", scheme, redactProxy(source))
	}
	return target, nil
}

// proxySelection is the outcome of SelectProxy with the facts worth logging.
type proxySelection struct {
	target *ProxyTarget
	origin string // "option" or "environment"

	// bypassedBy is the no-proxy pattern that excluded the destination.
	bypassedBy string
}

// SelectProxy decides which proxy, if any, applies to destination.
//
// An explicit per-client setting always wins. Otherwise, when env is
// enabled, the scheme's environment proxy is used unless destination
// matches the environment's no-proxy list. A nil target means no proxy.
func SelectProxy(scheme Scheme, explicit string, env Environment, destination string) (*ProxyTarget, error) {
	sel, err := selectProxy(scheme, explicit, env, destination)
	if err != nil {
		return nil, err
	}
	return sel.target, nil
}

func selectProxy(scheme Scheme, explicit string, env Environment, destination string) (proxySelection, error) {
	var sel proxySelection

	source := explicit
	sel.origin = "option"
	if source == "" && env.Enabled() {
		source = env.Proxy(scheme)
		sel.origin = "environment"
		if source != "" {
			if pattern, ok := matchNoProxy(destination, env.NoProxyList()); ok {
				sel.bypassedBy = pattern
				return sel, nil
			}
		}
	}
	if source == "" {
		return sel, nil
	}

	target, err := ParseProxySource(source, scheme)
	if err != nil {
		return sel, err
	}
	sel.target = target
	return sel, nil
}

// redactProxy hides credentials in a proxy setting.
func redactProxy(source string) string {
	at := strings.LastIndexByte(source, '@')
	if at < 0 {
		return source
	}
	prefix := ""
	if i := strings.Index(source, "://"); i >= 0 && i < at {
		prefix = source[:i+3]
	}
	return prefix + "***@" + source[at+1:]
}
