// Package config loads the proxy's JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
)

const (
	defaultBindPort        = 8100
	defaultMetricsBindAddr = ":9091"
)

// TLS configures the cert/key pair the proxy terminates TLS with. When absent, the proxy
// serves plaintext HTTP/2 (h2c).
type TLS struct {
	Key  string `json:"key"`
	Cert string `json:"cert"`
}

// SparkVersion describes one configured backend installation.
type SparkVersion struct {
	Name            string            `json:"name"`
	Home            string            `json:"home"`
	Env             map[string]string `json:"env,omitempty"`
	DefaultConfigs  map[string]string `json:"default_configs,omitempty"`
	MergeConfigs    map[string]string `json:"merge_configs,omitempty"`
	OverrideConfigs map[string]string `json:"override_configs,omitempty"`
	Default         bool              `json:"default"`
}

// Config is the top-level JSON configuration document (spec.md §6, extended by SPEC_FULL.md
// §4.6 with a metrics bind address since a Prometheus server is an ambient concern carried
// regardless of the spec's Non-goals).
type Config struct {
	BindHost        string         `json:"bind_host"`
	CallbackAddress string         `json:"callback_address,omitempty"`
	MetricsBindAddr string         `json:"metrics_bind_addr"`
	TLS             *TLS           `json:"tls,omitempty"`
	SparkVersions   []SparkVersion `json:"spark_versions,omitempty"`
	BindPort        int            `json:"bind_port"`
}

// Default returns a Config with spec.md's documented defaults applied.
func Default() Config {
	return Config{
		BindHost:        "0.0.0.0",
		BindPort:        defaultBindPort,
		MetricsBindAddr: defaultMetricsBindAddr,
	}
}

// Load reads and parses the config file at path. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	// decode onto the defaults so unset JSON fields keep their default value.
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}

	return cfg, nil
}

// BindAddr returns the host:port the proxy's main listener binds to.
func (c Config) BindAddr() string {
	return net.JoinHostPort(c.BindHost, fmt.Sprintf("%d", c.BindPort))
}

// CallbackAddr returns the externally reachable base URL backends should call back to,
// either the configured override or an auto-derived scheme://local-ip:port (spec.md §4.2).
func (c Config) CallbackAddr() (string, error) {
	if c.CallbackAddress != "" {
		return c.CallbackAddress, nil
	}

	scheme := "http"
	if c.TLS != nil {
		scheme = "https"
	}

	ip, err := localIP()
	if err != nil {
		return "", fmt.Errorf("failed to auto-derive callback address: %w", err)
	}

	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(ip, fmt.Sprintf("%d", c.BindPort))), nil
}

// localIP returns the first non-loopback IPv4 address found on the host's network
// interfaces. There is no third-party "local IP" resolver in the example pack (see
// DESIGN.md), so this is one of the few places the standard library is used directly
// for a domain concern.
func localIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}

		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}

	return "", fmt.Errorf("no non-loopback network interface found")
}
