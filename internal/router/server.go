package router

import (
	"fmt"
	"net"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/magiclink-auth/internal/config"
)

// NewEcho returns an echo instance whose RealIP cannot be set by the client.
func NewEcho(cfg config.Config) (*echo.Echo, error) {
	ext, err := IPExtractor(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	e := echo.New()
	e.HideBanner = true
	e.IPExtractor = ext
	return e, nil
}

// IPExtractor reads the client address from the TCP peer.  With trusted
// proxies it walks X-Forwarded-For from the right and stops at the first
// address outside the given ranges; nothing else is trusted, private
// networks included.  Entries are CIDRs or bare IPs.
func IPExtractor(trusted []string) (echo.IPExtractor, error) {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect(), nil
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, s := range trusted {
		if !strings.Contains(s, "/") {
			ip := net.ParseIP(s)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q: not an IP or CIDR", s)
			}
			bits := 128
			if ip.To4() != nil {
				bits = 32
			}
			s = fmt.Sprintf("%s/%d", s, bits)
		}
		_, ipNet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", s, err)
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}
