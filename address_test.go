package mqlink

import "testing"

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		defaultPort int
		withTopic   bool
		wantHost    string
		wantPort    int
		wantHasPort bool
		wantTopic   string
	}{
		{"host and port", "broker.example.com:1884", 1883, false, "broker.example.com", 1884, true, ""},
		{"host only", "mqtt.example.com", 1883, false, "mqtt.example.com", 1883, false, ""},
		{"proxy address", "proxy.example.com:8080", 1883, false, "proxy.example.com", 8080, true, ""},
		{"ipv4", "192.168.1.10:8883", 1883, false, "192.168.1.10", 8883, true, ""},
		{"ipv6 with port", "[::1]:1883", 80, false, "::1", 1883, true, ""},
		{"ipv6 without port", "[::1]", 1883, false, "::1", 1883, false, ""},
		{"ipv6 full", "[2001:db8::1]:9001", 1883, false, "2001:db8::1", 9001, true, ""},
		{"host with topic", "host/topic", 1883, true, "host", 1883, false, "/topic"},
		{"host port topic", "host:9001/mqtt", 80, true, "host", 9001, true, "/mqtt"},
		{"ipv6 port topic", "[::1]:9001/ws", 80, true, "::1", 9001, true, "/ws"},
		{"ipv6 topic without port", "[fe80::1]/ws", 80, true, "fe80::1", 80, false, "/ws"},
		{"topic not requested", "host:9001/mqtt", 80, false, "host", 9001, true, ""},
		{"slash ends host without topic", "host/ignored", 1883, false, "host", 1883, false, ""},
		{"no port sentinel", "example.com", NoPort, false, "example.com", NoPort, false, ""},
		{"empty", "", 1883, true, "", 1883, false, ""},
		{"trailing slash", "proxy:3128/", DefaultProxyPort, true, "proxy", 3128, true, "/"},
		{"port with garbage", "host:12ab", 1883, false, "host", 12, true, ""},
		{"empty port", "host:", 1883, false, "host", 0, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAddress(tt.uri, tt.defaultPort, tt.withTopic)
			if got.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", got.Host, tt.wantHost)
			}
			if got.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", got.Port, tt.wantPort)
			}
			if got.HasPort != tt.wantHasPort {
				t.Errorf("HasPort = %v, want %v", got.HasPort, tt.wantHasPort)
			}
			if got.Topic != tt.wantTopic {
				t.Errorf("Topic = %q, want %q", got.Topic, tt.wantTopic)
			}
		})
	}
}

func TestParseAddressHostLength(t *testing.T) {
	// The host is the prefix before the port separator, never a copy.
	ep := ParseAddress("proxy.example.com:8080", DefaultMQTTPort, false)
	if len(ep.Host) != len("proxy.example.com") || ep.Port != 8080 {
		t.Errorf("got host length %d port %d, want %d and 8080", len(ep.Host), ep.Port, len("proxy.example.com"))
	}

	const plain = "mqtt.example.com"
	ep = ParseAddress(plain, DefaultMQTTPort, false)
	if len(ep.Host) != len(plain) || ep.Port != DefaultMQTTPort {
		t.Errorf("got host length %d port %d, want %d and %d", len(ep.Host), ep.Port, len(plain), DefaultMQTTPort)
	}
}

func TestEndpointHostPort(t *testing.T) {
	tests := []struct {
		ep   Endpoint
		want string
	}{
		{Endpoint{Host: "example.com", Port: 1883}, "example.com:1883"},
		{Endpoint{Host: "::1", Port: 8883}, "[::1]:8883"},
	}
	for _, tt := range tests {
		if got := tt.ep.HostPort(); got != tt.want {
			t.Errorf("HostPort() = %q, want %q", got, tt.want)
		}
	}
}

func FuzzParseAddress(f *testing.F) {
	for _, seed := range []string{"host:1883", "[::1]:1883", "[::1]", "host/topic", "", "[", "]", ":", "[:]/"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, uri string) {
		ep := ParseAddress(uri, DefaultMQTTPort, true)
		if len(ep.Host) > len(uri) {
			t.Fatalf("host %q longer than input %q", ep.Host, uri)
		}
		if ep.Topic != "" && ep.Topic[0] != '/' {
			t.Fatalf("topic %q does not start with '/'", ep.Topic)
		}
	})
}
