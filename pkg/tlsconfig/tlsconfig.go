// Package tlsconfig builds the client TLS configuration used for https URLs.
package tlsconfig

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// VersionProfile is a pre-configured TLS version range.
type VersionProfile struct {
	Min         uint16
	Max         uint16
	Description string
}

var (
	// ProfileSecure - TLS 1.2 and 1.3, used unless the caller overrides it
	ProfileSecure = VersionProfile{
		Min:         tls.VersionTLS12,
		Max:         tls.VersionTLS13,
		Description: "TLS 1.2+ - secure and widely compatible",
	}

	// ProfileCompatible - TLS 1.0 through 1.3, for old blog hosts
	ProfileCompatible = VersionProfile{
		Min:         tls.VersionTLS10,
		Max:         tls.VersionTLS13,
		Description: "TLS 1.0+ - maximum compatibility, includes deprecated versions",
	}
)

// GetVersionName returns human-readable name for SSL/TLS version
func GetVersionName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return "Unknown"
	}
}

// ApplyVersionProfile applies a pre-configured version profile to tls.Config
func ApplyVersionProfile(config *tls.Config, profile VersionProfile) {
	config.MinVersion = profile.Min
	config.MaxVersion = profile.Max
}

// ProfileByName maps a configured profile name to its profile. An empty name
// selects ProfileSecure.
func ProfileByName(name string) (VersionProfile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "secure":
		return ProfileSecure, nil
	case "compatible":
		return ProfileCompatible, nil
	}
	return VersionProfile{}, fmt.Errorf("unknown TLS profile %q", name)
}

// ForHost returns a client configuration for serverName. When base is non-nil
// it is cloned and only ServerName is filled in if empty; otherwise a fresh
// config with profile is built, ProfileSecure when profile is the zero value.
// HTTP/1.1 is the only protocol offered.
func ForHost(serverName string, insecure bool, profile VersionProfile, base *tls.Config) *tls.Config {
	if base != nil {
		cfg := base.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = serverName
		}
		return cfg
	}
	cfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: insecure,
		NextProtos:         []string{"http/1.1"},
	}
	if profile.Min == 0 {
		profile = ProfileSecure
	}
	ApplyVersionProfile(cfg, profile)
	return cfg
}
