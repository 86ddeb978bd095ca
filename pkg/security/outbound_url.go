// Package security checks where completion requests may be sent.
package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrInsecureURL = errors.New("insecure service URL")

type OutboundURLOptions struct {
	// AllowInsecureRemote permits plain http to hosts outside the local
	// network. Credentials are then sent in clear text.
	AllowInsecureRemote bool
}

// IsLocalHost reports whether host names this machine or a private network.
func IsLocalHost(host string) bool {
	host = strings.ToLower(host)
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}

// ValidateServiceURL checks the base URL of a completion service. https is
// always accepted, http only for local hosts unless opts allow otherwise.
func ValidateServiceURL(rawURL string, opts OutboundURLOptions) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "invalid service URL")
	}

	host := parsed.Hostname()
	if host == "" {
		return errors.Errorf("service URL %q has no host", rawURL)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		if addr.IsUnspecified() || addr.IsMulticast() {
			return errors.Errorf("service URL %q has an unusable address", rawURL)
		}
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if opts.AllowInsecureRemote || IsLocalHost(host) {
			return nil
		}
		return errors.Wrapf(ErrInsecureURL, "%s is remote and not https", rawURL)
	default:
		return errors.Errorf("unsupported scheme %q in service URL", parsed.Scheme)
	}
}
