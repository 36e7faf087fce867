package provider

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
)

// ValidateBaseURL checks a backend base URL. It must be an absolute http(s)
// URL without credentials, query or fragment. Hosts that resolve to the
// local machine or a private network are refused unless allowPrivate is set,
// which local model and batch engine backends need.
func ValidateBaseURL(raw string, allowPrivate bool) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: base_url: %v", llmerrors.ErrInvalidConfig, err)
	}

	var problem string
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		problem = fmt.Sprintf("scheme %q is not http or https", u.Scheme)
	case u.Hostname() == "":
		problem = "missing host"
	case u.User != nil:
		problem = "credentials belong in api_key, not in the URL"
	case u.RawQuery != "" || u.Fragment != "":
		problem = "query and fragment are not allowed"
	case !allowPrivate && isLocalHost(u.Hostname()):
		problem = fmt.Sprintf("host %q is local or private (set allow_private_base_url)", u.Hostname())
	}
	if problem != "" {
		return fmt.Errorf("%w: base_url %q: %s", llmerrors.ErrInvalidConfig, raw, problem)
	}
	return nil
}

func isLocalHost(host string) bool {
	h := strings.ToLower(host)
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || !ip.IsGlobalUnicast()
}
