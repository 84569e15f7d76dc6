package mqlink

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// UseProxyEnv is the environment variable that opts in to proxies taken from
// the environment. It is off by default for backwards compatibility; any
// value starting with "TRUE" enables it.
const UseProxyEnv = "MQTT_CLIENT_USE_HTTP_PROXY"

// Environment is a snapshot of the proxy-related process environment.
// Lowercase variable names take precedence over uppercase ones.
type Environment struct {
	UseProxy string `env:"MQTT_CLIENT_USE_HTTP_PROXY"`

	HTTPProxy      string `env:"http_proxy"`
	HTTPProxyUpper string `env:"HTTP_PROXY"`

	HTTPSProxy      string `env:"https_proxy"`
	HTTPSProxyUpper string `env:"HTTPS_PROXY"`

	NoProxy      string `env:"no_proxy"`
	NoProxyUpper string `env:"NO_PROXY"`
}

// LoadEnvironment reads the proxy settings from the process environment.
func LoadEnvironment() (Environment, error) {
	return env.ParseAs[Environment]()
}

// EnvironmentFromMap reads the proxy settings from vars instead of the
// process environment. A nil map is an empty environment.
func EnvironmentFromMap(vars map[string]string) (Environment, error) {
	if vars == nil {
		vars = map[string]string{}
	}
	return env.ParseAsWithOptions[Environment](env.Options{Environment: vars})
}

// Enabled reports whether environment-derived proxies may be used.
func (e Environment) Enabled() bool {
	return strings.HasPrefix(e.UseProxy, "TRUE")
}

// Proxy returns the proxy variable for the scheme.
func (e Environment) Proxy(scheme Scheme) string {
	if scheme == SchemeHTTPS {
		return firstNonEmpty(e.HTTPSProxy, e.HTTPSProxyUpper)
	}
	return firstNonEmpty(e.HTTPProxy, e.HTTPProxyUpper)
}

// NoProxyList returns the no-proxy exclusion list.
func (e Environment) NoProxyList() string {
	return firstNonEmpty(e.NoProxy, e.NoProxyUpper)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
