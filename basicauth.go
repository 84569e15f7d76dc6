package mqlink

import (
	"encoding/base64"
	"net/url"
	"strings"
)

// PercentDecode decodes %XX escapes in the credential part of a proxy URL.
// Decoding stops at the first '@', which separates credentials from the
// proxy host. A '%' that is not followed by two hexadecimal digits is
// rejected with ErrInvalidConfig.
func PercentDecode(credentials string) (string, error) {
	if i := strings.IndexByte(credentials, '@'); i >= 0 {
		credentials = credentials[:i]
	}
	decoded, err := url.PathUnescape(credentials)
	if err != nil {
		return "", configError("proxy credentials: %v", err)
	}
	return decoded, nil
}

// EncodeBasicAuth decodes the user:pass credentials with PercentDecode and
// returns the Base64 token used in a Basic authorization header.
func EncodeBasicAuth(credentials string) (string, error) {
	decoded, err := PercentDecode(credentials)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString([]byte(decoded)), nil
}

