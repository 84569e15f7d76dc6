package mqlink

import "strings"

// BypassProxy reports whether destination (host[:port]) matches one of the
// comma-separated host[:port] patterns in noProxy, meaning the proxy must not
// be used for it.
//
// Matching rules, per pattern:
//   - a leading '.' is ignored (".example.com" is the same as "example.com");
//   - a pattern without a port matches any port, a pattern with a port only
//     matches destinations with that explicit port;
//   - "*" matches every host;
//   - otherwise the pattern must be a suffix of the destination host that
//     starts on a label boundary ("example.com" matches "test.example.com"
//     but not "notexample.com").
//
// Comparison is textual and ASCII case-insensitive. Host names are never
// resolved.
func BypassProxy(destination, noProxy string) bool {
	_, ok := matchNoProxy(destination, noProxy)
	return ok
}

// matchNoProxy returns the first pattern that matches destination.
func matchNoProxy(destination, noProxy string) (string, bool) {
	dest := ParseAddress(destination, NoPort, false)
	if dest.Host == "" {
		return "", false
	}

	for token := range strings.SplitSeq(noProxy, ",") {
		pattern := strings.TrimPrefix(strings.TrimSpace(token), ".")
		if pattern == "" {
			continue
		}
		if patternMatches(ParseAddress(pattern, NoPort, false), dest) {
			return pattern, true
		}
	}
	return "", false
}

func patternMatches(pattern, dest Endpoint) bool {
	if pattern.HasPort && (!dest.HasPort || dest.Port != pattern.Port) {
		return false
	}
	if pattern.Host == "*" {
		return true
	}
	return hostHasSuffix(dest.Host, pattern.Host)
}

// hostHasSuffix compares from the right end of both strings. A pattern
// longer than the host never matches; equal lengths match when the strings
// are equal.
func hostHasSuffix(host, suffix string) bool {
	if suffix == "" || len(suffix) > len(host) {
		return false
	}
	offset := len(host) - len(suffix)
	if !strings.EqualFold(host[offset:], suffix) {
		return false
	}
	return offset == 0 || host[offset-1] == '.'
}
