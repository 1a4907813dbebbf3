// Package config provides configuration management for StackHost.
//
// Configuration is loaded in the following order (later sources override
// earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration file (./config.yaml, /etc/stackhost/config.yaml)
//  3. Environment variables (SH_ prefix, dots replaced by underscores)
//
// Example environment overrides:
//   - SH_SERVER_PORT=8095
//   - SH_DATABASE_HOST=db.internal
//   - SH_DNS_RELOAD_URL=http://ns1.internal:8053/reload
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for StackHost.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Network   NetworkConfig   `mapstructure:"network"`
	Images    ImagesConfig    `mapstructure:"images"`
	DNS       DNSConfig       `mapstructure:"dns"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Security  SecurityConfig  `mapstructure:"security"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Debug           bool          `mapstructure:"debug"`
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN builds the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Name, c.SSLMode)
}

// RuntimeConfig contains container runtime settings.
type RuntimeConfig struct {
	// Socket is the Docker daemon socket path.
	Socket string `mapstructure:"socket"`
	// OperationTimeout bounds every runtime call (create/start/stop/remove).
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	// BuildTimeout bounds an image build, which can legitimately take minutes.
	BuildTimeout time.Duration `mapstructure:"build_timeout"`
	// StopTimeout is the grace period containers get before a kill.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// NetworkConfig contains address and port allocation settings.
type NetworkConfig struct {
	// IPRangeCIDR is the pool customer containers get addresses from.
	IPRangeCIDR string `mapstructure:"ip_range_cidr"`
	// SSHPortMin/Max is the host port range mapped to container SSH.
	SSHPortMin int `mapstructure:"ssh_port_min"`
	SSHPortMax int `mapstructure:"ssh_port_max"`
	// DockerNetwork is the bridge network containers join with their
	// allocated static address.
	DockerNetwork string `mapstructure:"docker_network"`
	// VolumeBaseDir is where per-container data volumes live.
	VolumeBaseDir string `mapstructure:"volume_base_dir"`
	// DomainSuffix is appended to customer hostnames, e.g. "vps.stackhost.io".
	DomainSuffix string `mapstructure:"domain_suffix"`
}

// ImagesConfig contains custom image pipeline settings.
type ImagesConfig struct {
	// RequireApproval gates completed builds behind an admin approval
	// before customers can select them.
	RequireApproval bool `mapstructure:"require_approval"`
	// BaseImageDenylist rejects builds whose FROM images match one of
	// these prefixes.
	BaseImageDenylist []string `mapstructure:"base_image_denylist"`
}

// DNSConfig contains DNS server control-plane settings.
type DNSConfig struct {
	ZoneDir       string        `mapstructure:"zone_dir"`
	ConfigDir     string        `mapstructure:"config_dir"`
	ReloadURL     string        `mapstructure:"reload_url"`
	HealthURL     string        `mapstructure:"health_url"`
	ReloadTimeout time.Duration `mapstructure:"reload_timeout"`
	PrimaryNS     string        `mapstructure:"primary_ns"`
	AdminEmail    string        `mapstructure:"admin_email"`
	Nameservers   []string      `mapstructure:"nameservers"`
	DefaultTTL    int           `mapstructure:"default_ttl"`
}

// ProxyConfig contains reverse proxy control-plane settings.
type ProxyConfig struct {
	SitesDir      string        `mapstructure:"sites_dir"`
	TestCommand   []string      `mapstructure:"test_command"`
	ReloadCommand []string      `mapstructure:"reload_command"`
	ReloadTimeout time.Duration `mapstructure:"reload_timeout"`
}

// BackupConfig contains backup and retention settings.
type BackupConfig struct {
	StagingDir     string `mapstructure:"staging_dir"`
	KeepDaily      int    `mapstructure:"keep_daily"`
	KeepWeekly     int    `mapstructure:"keep_weekly"`
	KeepMonthly    int    `mapstructure:"keep_monthly"`
	S3Bucket       string `mapstructure:"s3_bucket"`
	S3Region       string `mapstructure:"s3_region"`
	S3Encrypt      bool   `mapstructure:"s3_encrypt"`
	UploadEnabled  bool   `mapstructure:"upload_enabled"`
}

// BillingConfig contains billing calculator settings.
type BillingConfig struct {
	// SetupFeeGracePeriod is how long after the start date a cancellation
	// still refunds the setup fee in full.
	SetupFeeGracePeriod time.Duration `mapstructure:"setup_fee_grace_period"`
}

// WorkerConfig contains background task runner settings.
type WorkerConfig struct {
	PoolSize    int           `mapstructure:"pool_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// SchedulerConfig contains periodic job settings.
type SchedulerConfig struct {
	MetricsInterval    time.Duration `mapstructure:"metrics_interval"`
	MetricsRetention   time.Duration `mapstructure:"metrics_retention"`
	BackupInterval     time.Duration `mapstructure:"backup_interval"`
	RetentionInterval  time.Duration `mapstructure:"retention_interval"`
	BillingInterval    time.Duration `mapstructure:"billing_interval"`
	ZoneResyncInterval time.Duration `mapstructure:"zone_resync_interval"`
	BuildPollInterval  time.Duration `mapstructure:"build_poll_interval"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`
	// Format is the log format (json, text)
	Format string `mapstructure:"format"`
	// Output is the log destination (stdout, stderr or a file path)
	Output string `mapstructure:"output"`
}

// SecurityConfig contains security and rate limiting settings.
type SecurityConfig struct {
	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit"`
	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// AuthEnabled enables JWT authentication
	AuthEnabled bool `mapstructure:"auth_enabled"`
	// JWTSecret verifies bearer tokens issued by the platform auth service
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Load reads configuration from a file and environment variables. If cfgFile
// is empty, config.yaml is searched in standard locations.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/stackhost")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("SH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8095)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "stackhost")
	v.SetDefault("database.username", "stackhost")
	v.SetDefault("database.password", "stackhost")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("runtime.socket", "/var/run/docker.sock")
	v.SetDefault("runtime.operation_timeout", "60s")
	v.SetDefault("runtime.build_timeout", "15m")
	v.SetDefault("runtime.stop_timeout", "10s")

	v.SetDefault("network.ip_range_cidr", "10.10.0.0/16")
	v.SetDefault("network.ssh_port_min", 22000)
	v.SetDefault("network.ssh_port_max", 22999)
	v.SetDefault("network.docker_network", "stackhost")
	v.SetDefault("network.volume_base_dir", "/var/lib/stackhost/volumes")
	v.SetDefault("network.domain_suffix", "vps.stackhost.io")

	v.SetDefault("images.require_approval", true)
	v.SetDefault("images.base_image_denylist", []string{})

	v.SetDefault("dns.zone_dir", "/etc/stackhost/zones")
	v.SetDefault("dns.config_dir", "/etc/stackhost/zones.d")
	v.SetDefault("dns.reload_url", "http://localhost:8053/reload")
	v.SetDefault("dns.health_url", "http://localhost:8053/health")
	v.SetDefault("dns.reload_timeout", "10s")
	v.SetDefault("dns.primary_ns", "ns1.stackhost.io")
	v.SetDefault("dns.admin_email", "hostmaster@stackhost.io")
	v.SetDefault("dns.nameservers", []string{"ns1.stackhost.io", "ns2.stackhost.io"})
	v.SetDefault("dns.default_ttl", 3600)

	v.SetDefault("proxy.sites_dir", "/etc/stackhost/sites-enabled")
	v.SetDefault("proxy.test_command", []string{"nginx", "-t"})
	v.SetDefault("proxy.reload_command", []string{"nginx", "-s", "reload"})
	v.SetDefault("proxy.reload_timeout", "10s")

	v.SetDefault("backup.staging_dir", "/var/lib/stackhost/backups")
	v.SetDefault("backup.keep_daily", 7)
	v.SetDefault("backup.keep_weekly", 4)
	v.SetDefault("backup.keep_monthly", 12)
	v.SetDefault("backup.s3_region", "eu-central-1")
	v.SetDefault("backup.s3_encrypt", true)
	v.SetDefault("backup.upload_enabled", false)

	v.SetDefault("billing.setup_fee_grace_period", "336h") // 14 days

	v.SetDefault("worker.pool_size", 4)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.retry_delay", "5s")
	v.SetDefault("worker.poll_timeout", "1s")

	v.SetDefault("scheduler.metrics_interval", "1m")
	v.SetDefault("scheduler.metrics_retention", "720h") // 30 days
	v.SetDefault("scheduler.backup_interval", "24h")
	v.SetDefault("scheduler.retention_interval", "24h")
	v.SetDefault("scheduler.billing_interval", "1h")
	v.SetDefault("scheduler.zone_resync_interval", "24h")
	v.SetDefault("scheduler.build_poll_interval", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("security.rate_limit", 100)
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.auth_enabled", true)
	v.SetDefault("security.jwt_secret", "change-me-in-production")
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if cfg.Network.SSHPortMin >= cfg.Network.SSHPortMax {
		return fmt.Errorf("ssh port range is empty: %d..%d", cfg.Network.SSHPortMin, cfg.Network.SSHPortMax)
	}
	if cfg.Backup.KeepDaily < 1 || cfg.Backup.KeepWeekly < 1 || cfg.Backup.KeepMonthly < 1 {
		return fmt.Errorf("backup retention counts must be at least 1")
	}
	if cfg.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker max_retries must not be negative")
	}
	return nil
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
