package config

// Default configuration values.
const (
	DefaultControlAddr   = "127.0.0.1:5050"
	DefaultBindingTTL    = 60
	DefaultLogLevel      = "info"
	DefaultDBPath        = "/var/lib/arpd/arpd.db"
	DefaultMetricsListen = "127.0.0.1:9115"
	DefaultConfigPath    = "/etc/arpd/arpd.toml"
)
