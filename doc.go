// Package stackhost is a self-service VPS hosting orchestration core.
//
// # Overview
//
// StackHost turns paid subscriptions into running customer containers. It
// owns the full hosting lifecycle: provisioning containers from plans and
// customer-built images, publishing DNS zones and reverse-proxy routes,
// invoicing renewals and plan changes, and keeping rotating backups of
// every data volume.
//
// The platform consists of four main components:
//   - API Server: REST API and websocket event stream for operators
//   - Worker Pool: keyed background jobs for provisioning and builds
//   - Scheduler: metrics sampling, nightly backups, billing, zone resync
//   - Storage Layer: PostgreSQL through GORM, archives in S3 or on disk
//
// # Architecture
//
//	┌─────────────────┐
//	│  API Server     │
//	│  (Echo REST)    │
//	└────────┬────────┘
//	         │
//	┌────────▼────────┐       ┌─────────────────┐
//	│  Domain Layer   │◄──────┤  Worker Pool /  │
//	│  (lifecycle,    │       │  Scheduler      │
//	│   billing, dns) │       └─────────────────┘
//	└────────┬────────┘
//	         │
//	┌────────▼──────────────────────────┐
//	│  Store (GORM/Postgres)            │
//	│  Docker Engine · BIND · nginx · S3│
//	└───────────────────────────────────┘
//
// # Core Features
//
// Subscription lifecycle:
//   - Typed state machines for subscriptions and containers
//   - Async provisioning through the keyed worker pool
//   - Suspension, resume, cancellation and termination flows
//
// Custom images:
//   - Customer build-context uploads with base image scanning
//   - Background build pipeline with per-image build logs
//   - Optional operator approval gate before images are usable
//
// Billing:
//   - Decimal money, cycle pricing with quarterly and annual discounts
//   - Pro-rated plan upgrades and setup fee grace refunds
//   - Periodic renewal runner that suspends unpaid subscriptions
//
// DNS and routing:
//   - Zone file generation with serial bumping and record validation
//   - HTTP-triggered DNS server reloads, nightly full resync
//   - Per-container nginx site configs with test-then-reload
//
// Backups:
//   - Daily, weekly and monthly rotation with retention pruning
//   - Tar archives of data volumes staged locally, stored in S3 or on disk
//   - Restore with an automatic pre-restore safety backup
//
// # Usage
//
// Start the orchestration server:
//
//	stackhost server --config config.yaml
//
// Operational helpers:
//
//	stackhost zones resync
//	stackhost backup run --type MANUAL
//	stackhost token --roles admin --expiration 24h
//	stackhost config init
//
// # Configuration
//
// Configuration can be provided via:
//   - YAML file (config.yaml)
//   - Environment variables (SH_ prefix)
//
// Example configuration:
//
//	server:
//	  host: 0.0.0.0
//	  port: 8095
//	database:
//	  host: localhost
//	  port: 5432
//	  name: stackhost
//	network:
//	  ip_range_cidr: 10.10.0.0/16
//	  domain_suffix: vps.stackhost.io
//
// # API Endpoints
//
// Plans:
//   - GET  /api/v1/plans                - List plans (paginated)
//   - POST /api/v1/plans                - Create plan (admin)
//   - PUT  /api/v1/plans/:id            - Update mutable plan fields (admin)
//
// Subscriptions:
//   - POST /api/v1/subscriptions                        - Create and provision
//   - POST /api/v1/subscriptions/:id/cancel             - Cancel
//   - POST /api/v1/subscriptions/:id/suspend            - Suspend (admin)
//   - POST /api/v1/subscriptions/:id/resume             - Resume
//   - POST /api/v1/subscriptions/:id/plan-change        - Upgrade plan
//   - POST /api/v1/subscriptions/:id/plan-change/preview - Pro-ration preview
//
// Containers:
//   - GET  /api/v1/containers/:id/metrics  - Resource usage samples
//   - POST /api/v1/containers/:id/start    - Start
//   - POST /api/v1/containers/:id/stop     - Stop
//   - POST /api/v1/containers/:id/reboot   - Reboot
//   - POST /api/v1/containers/:id/backups  - On-demand backup
//
// Images:
//   - POST /api/v1/images                - Upload build context (multipart)
//   - GET  /api/v1/images/:id/logs       - Build logs
//   - POST /api/v1/images/:id/approve    - Approve (admin)
//
// Zones:
//   - POST /api/v1/zones                 - Create zone (admin)
//   - POST /api/v1/zones/:id/records     - Add record and sync
//   - POST /api/v1/zones/sync            - Resync all zones (admin)
//
// WebSocket:
//   - GET /ws/events  - Real-time lifecycle, build and billing events
//
// # Development
//
// Run tests:
//
//	go test ./...
//
// Build the binary:
//
//	go build -o stackhost ./cmd/stackhost
//
// # Technology Stack
//
//   - Go 1.25+
//   - Echo v4 (Web framework)
//   - PostgreSQL via GORM (SQLite in tests)
//   - Docker Engine API (Container runtime)
//   - AWS S3 (Backup archive storage)
//   - gocron v2 (Periodic jobs)
//
// # License
//
// StackHost is open source software.
package stackhost
