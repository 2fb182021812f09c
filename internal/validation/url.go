// Package validation checks user-supplied gateway addresses and message
// input before they reach the keyring, the settings file or the wire.
//
// Gateway URLs must use ws or wss. Cloud metadata endpoints are always
// rejected. Plain ws:// is accepted only for loopback, private network
// and .local hosts, since the session token travels in the first frame;
// CHATSYNC_ALLOW_INSECURE (any strconv.ParseBool true value) or
// SetAllowInsecure(true) lifts that restriction.
package validation

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// MaxURLLength bounds gateway URLs.
const MaxURLLength = 2048

var allowInsecure atomic.Bool

// privateNetworks are ranges a restaurant LAN gateway can live in.
var privateNetworks []*net.IPNet

func init() {
	v, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv("CHATSYNC_ALLOW_INSECURE")))
	allowInsecure.Store(v)

	privateCIDRs := []string{
		"10.0.0.0/8",     // RFC1918
		"172.16.0.0/12",  // RFC1918
		"192.168.0.0/16", // RFC1918
		"100.64.0.0/10",  // RFC6598, also tailnets
		"fc00::/7",       // RFC4193
	}
	privateNetworks = make([]*net.IPNet, 0, len(privateCIDRs))
	for _, cidr := range privateCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		privateNetworks = append(privateNetworks, network)
	}
}

// SetAllowInsecure permits ws:// to any host. Metadata endpoints stay blocked.
func SetAllowInsecure(enabled bool) {
	allowInsecure.Store(enabled)
}

// AllowInsecureEnabled reports the current SetAllowInsecure state.
func AllowInsecureEnabled() bool {
	return allowInsecure.Load()
}

// ValidateGatewayURL checks a gateway WebSocket URL.
func ValidateGatewayURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("gateway URL cannot be empty")
	}
	if len(rawURL) > MaxURLLength {
		return fmt.Errorf("gateway URL exceeds maximum length of %d characters", MaxURLLength)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid gateway URL: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("gateway URL must start with ws:// or wss://, got %q", parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("gateway URL must not carry credentials; use --token")
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("gateway URL must contain a hostname")
	}
	if isCloudMetadata(hostname) {
		return fmt.Errorf("cloud metadata endpoints are not allowed")
	}

	ip := net.ParseIP(hostname)
	if ip != nil && ip.IsUnspecified() {
		return fmt.Errorf("unspecified IP addresses are not allowed")
	}
	if ip != nil && (ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast()) {
		return fmt.Errorf("link-local and multicast addresses are not allowed")
	}

	if parsed.Scheme == "ws" && !allowInsecure.Load() && !isLocalNetwork(hostname, ip) {
		return fmt.Errorf("ws:// sends the token unencrypted to %s; use wss:// or set CHATSYNC_ALLOW_INSECURE=1", hostname)
	}
	return nil
}

// isLocalNetwork reports hosts where plain ws:// is acceptable.
func isLocalNetwork(hostname string, ip net.IP) bool {
	if isLocalhost(hostname) {
		return true
	}
	if ip == nil {
		return strings.HasSuffix(strings.ToLower(hostname), ".local")
	}
	return ip.IsLoopback() || isPrivateIP(ip)
}

func isLocalhost(hostname string) bool {
	lowercase := strings.ToLower(hostname)
	switch lowercase {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return strings.HasSuffix(lowercase, ".localhost")
}

func isCloudMetadata(hostname string) bool {
	lowercase := strings.ToLower(hostname)
	switch lowercase {
	case "169.254.169.254", // AWS, Azure, GCP, DigitalOcean
		"metadata.google.internal",
		"metadata",
		"instance-data",
		"fd00:ec2::254":
		return true
	}
	return strings.HasSuffix(lowercase, ".metadata.google.internal")
}

func isPrivateIP(ip net.IP) bool {
	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
