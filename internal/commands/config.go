package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runShowConfig,
}

var initConfigCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	RunE:  runInitConfig,
}

func init() {
	configCmd.AddCommand(showConfigCmd)
	configCmd.AddCommand(initConfigCmd)
}

func runShowConfig(cmd *cobra.Command, args []string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	defaultConfig := `# StackHost Configuration

server:
  host: 0.0.0.0
  port: 8095
  read_timeout: 30s
  write_timeout: 30s
  shutdown_timeout: 10s
  debug: false

database:
  host: localhost
  port: 5432
  name: stackhost
  username: stackhost
  password: stackhost
  ssl_mode: disable
  max_connections: 10

runtime:
  socket: /var/run/docker.sock
  operation_timeout: 60s
  build_timeout: 15m
  stop_timeout: 10s

network:
  ip_range_cidr: 10.10.0.0/16
  ssh_port_min: 22000
  ssh_port_max: 22999
  docker_network: stackhost
  volume_base_dir: /var/lib/stackhost/volumes
  domain_suffix: vps.stackhost.io

images:
  require_approval: true
  base_image_denylist: []

dns:
  zone_dir: /etc/stackhost/zones
  config_dir: /etc/stackhost/zones.d
  reload_url: http://localhost:8053/reload
  health_url: http://localhost:8053/health
  reload_timeout: 10s
  primary_ns: ns1.stackhost.io
  admin_email: hostmaster@stackhost.io
  nameservers:
    - ns1.stackhost.io
    - ns2.stackhost.io
  default_ttl: 3600

proxy:
  sites_dir: /etc/stackhost/sites-enabled
  test_command: ["nginx", "-t"]
  reload_command: ["nginx", "-s", "reload"]
  reload_timeout: 10s

backup:
  staging_dir: /var/lib/stackhost/backups
  keep_daily: 7
  keep_weekly: 4
  keep_monthly: 12
  upload_enabled: false
  s3_bucket: ""
  s3_region: eu-central-1
  s3_encrypt: true

billing:
  setup_fee_grace_period: 336h

worker:
  pool_size: 4
  max_retries: 3
  retry_delay: 5s
  poll_timeout: 1s

scheduler:
  metrics_interval: 1m
  metrics_retention: 720h
  backup_interval: 24h
  retention_interval: 24h
  billing_interval: 1h
  zone_resync_interval: 24h
  build_poll_interval: 5s

logging:
  level: info
  format: text
  output: stdout

security:
  rate_limit: 100
  allowed_origins:
    - "*"
  auth_enabled: true
  jwt_secret: change-me-in-production
`

	if err := os.WriteFile("config.yaml", []byte(defaultConfig), 0644); err != nil {
		return err
	}

	fmt.Println("✓ Created config.yaml")
	return nil
}
