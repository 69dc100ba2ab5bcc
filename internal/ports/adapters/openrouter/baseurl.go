package openrouter

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

const defaultBaseURL = "https://openrouter.ai"

// ErrUnsafeBaseURL wraps every base URL rejection.
var ErrUnsafeBaseURL = errors.New("invalid openrouter base url")

var builtinHosts = []string{"openrouter.ai", "api.openrouter.ai"}

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(baseURL, "/")
}

// ValidateBaseURL refuses backends the API key must not be sent to. Plain
// http is accepted for loopback hosts only.
func ValidateBaseURL(baseURL string, allowedHosts []string) error {
	baseURL = normalizeBaseURL(baseURL)
	reject := func(reason string) error {
		return fmt.Errorf("%w %q: %s", ErrUnsafeBaseURL, baseURL, reason)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeBaseURL, err)
	}
	switch {
	case !u.IsAbs() || u.Hostname() == "":
		return reject("absolute URL with host is required")
	case u.User != nil:
		return reject("userinfo is not allowed")
	case u.RawQuery != "" || u.Fragment != "":
		return reject("query and fragment are not allowed")
	}

	host := strings.ToLower(u.Hostname())
	scheme := strings.ToLower(u.Scheme)
	if scheme != "https" && !(scheme == "http" && isLoopback(host)) {
		return reject("https is required")
	}
	if !hostAllowed(host, allowedHosts) {
		return reject(fmt.Sprintf("host %q is not in the allowed hosts", host))
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// hostAllowed matches host against the configured list, falling back to the
// OpenRouter hosts when the list holds no usable entry.
func hostAllowed(host string, allowedHosts []string) bool {
	hosts := cleanHosts(allowedHosts)
	if len(hosts) == 0 {
		hosts = builtinHosts
	}
	for _, h := range hosts {
		if h == host {
			return true
		}
	}
	return false
}

// cleanHosts accepts bare hosts as well as URLs or host:port pairs.
func cleanHosts(in []string) []string {
	out := make([]string, 0, len(in))
	for _, h := range in {
		v := strings.ToLower(strings.TrimSpace(h))
		v = strings.TrimPrefix(v, "http://")
		v = strings.TrimPrefix(v, "https://")
		v = strings.Trim(v, "/")
		if host, _, err := net.SplitHostPort(v); err == nil {
			v = host
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
