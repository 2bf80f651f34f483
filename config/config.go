package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"printlink-backend/internal/logger"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Device     DeviceConfig     `yaml:"device"`
	Transfer   TransferConfig   `yaml:"transfer"`
	Cloud      CloudConfig      `yaml:"cloud"`
	Firmware   FirmwareConfig   `yaml:"firmware"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Log        logger.Config    `yaml:"log"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DiscoveryConfig controls the broadcast listener.
type DiscoveryConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	BufferSize int  `yaml:"buffer_size"`
}

// DeviceConfig holds connection and liveness tunables shared by every device.
type DeviceConfig struct {
	IdleTimeoutSeconds      int           `yaml:"idle_timeout_seconds"`
	IdleTimeout             time.Duration `yaml:"-"`
	AliveTimeoutSeconds     int           `yaml:"alive_timeout_seconds"`
	AliveTimeout            time.Duration `yaml:"-"`
	LivenessIntervalSeconds int           `yaml:"liveness_interval_seconds"`
	LivenessInterval        time.Duration `yaml:"-"`
	// LegacyFilamentPresent is assumed for firmware that does not report filament presence.
	LegacyFilamentPresent *bool `yaml:"legacy_filament_present"`
	EventBuffer           int   `yaml:"event_buffer"`
}

// TransferConfig describes the two upload protocols and the snapshot download.
type TransferConfig struct {
	HTTPPort               int           `yaml:"http_port"`
	HTTPUploadPath         string        `yaml:"http_upload_path"`
	FTPPort                int           `yaml:"ftp_port"`
	FTPUser                string        `yaml:"ftp_user"`
	FTPPassword            string        `yaml:"ftp_password"`
	SnapshotName           string        `yaml:"snapshot_name"`
	SnapshotAttempts       int           `yaml:"snapshot_attempts"`
	SnapshotDelaySeconds   int           `yaml:"snapshot_delay_seconds"`
	SnapshotDelay          time.Duration `yaml:"-"`
	SnapshotTimeoutSeconds int           `yaml:"snapshot_timeout_seconds"`
	SnapshotTimeout        time.Duration `yaml:"-"`
	// Uploads follow the built-in policy unless these are set.
	UploadAttempts       int           `yaml:"upload_attempts"`
	UploadTimeoutSeconds int           `yaml:"upload_timeout_seconds"`
	UploadTimeout        time.Duration `yaml:"-"`
	UploadDir            string        `yaml:"upload_dir"`
}

// CloudConfig configures the NATS relay used for remote devices.
type CloudConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	ObjectBucket  string `yaml:"object_bucket"`
	CredsFile     string `yaml:"creds_file"`
}

// FirmwareConfig controls the periodic latest-firmware lookup.
type FirmwareConfig struct {
	Enabled         bool          `yaml:"enabled"`
	FeedURL         string        `yaml:"feed_url"`
	Models          []string      `yaml:"models"`
	IntervalMinutes int           `yaml:"interval_minutes"`
	Interval        time.Duration `yaml:"-"`
	TimeoutSeconds  int           `yaml:"timeout_seconds"`
	Timeout         time.Duration `yaml:"-"`
}

// ArchiveConfig holds metadata stamped into built archives.
type ArchiveConfig struct {
	OutputDir     string `yaml:"output_dir"`
	SlicerVersion string `yaml:"slicer_version"`
	AppVersion    string `yaml:"app_version"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Discovery: DiscoveryConfig{Enabled: true},
		Firmware:  FirmwareConfig{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}

	if cfg.Discovery.Port <= 0 {
		cfg.Discovery.Port = 9295
	}
	if cfg.Discovery.BufferSize <= 0 {
		cfg.Discovery.BufferSize = 1024
	}

	if cfg.Device.IdleTimeoutSeconds <= 0 {
		cfg.Device.IdleTimeoutSeconds = 30
	}
	cfg.Device.IdleTimeout = time.Duration(cfg.Device.IdleTimeoutSeconds) * time.Second
	if cfg.Device.AliveTimeoutSeconds <= 0 {
		cfg.Device.AliveTimeoutSeconds = 10
	}
	cfg.Device.AliveTimeout = time.Duration(cfg.Device.AliveTimeoutSeconds) * time.Second
	if cfg.Device.LivenessIntervalSeconds <= 0 {
		cfg.Device.LivenessIntervalSeconds = 3
	}
	cfg.Device.LivenessInterval = time.Duration(cfg.Device.LivenessIntervalSeconds) * time.Second
	if cfg.Device.LegacyFilamentPresent == nil {
		present := true
		cfg.Device.LegacyFilamentPresent = &present
	}
	if cfg.Device.EventBuffer <= 0 {
		cfg.Device.EventBuffer = 64
	}

	if cfg.Transfer.HTTPPort <= 0 {
		cfg.Transfer.HTTPPort = 80
	}
	if cfg.Transfer.HTTPUploadPath == "" {
		cfg.Transfer.HTTPUploadPath = "/upload.cgi"
	}
	if cfg.Transfer.FTPPort <= 0 {
		cfg.Transfer.FTPPort = 9494
	}
	if cfg.Transfer.FTPUser == "" {
		cfg.Transfer.FTPUser = "zaxe"
	}
	if cfg.Transfer.FTPPassword == "" {
		cfg.Transfer.FTPPassword = "zaxe"
	}
	if cfg.Transfer.SnapshotName == "" {
		cfg.Transfer.SnapshotName = "snapshot.png"
	}
	if cfg.Transfer.SnapshotAttempts <= 0 {
		cfg.Transfer.SnapshotAttempts = 3
	}
	if cfg.Transfer.SnapshotDelaySeconds <= 0 {
		cfg.Transfer.SnapshotDelaySeconds = 2
	}
	cfg.Transfer.SnapshotDelay = time.Duration(cfg.Transfer.SnapshotDelaySeconds) * time.Second
	if cfg.Transfer.SnapshotTimeoutSeconds <= 0 {
		cfg.Transfer.SnapshotTimeoutSeconds = 5
	}
	cfg.Transfer.SnapshotTimeout = time.Duration(cfg.Transfer.SnapshotTimeoutSeconds) * time.Second
	cfg.Transfer.UploadTimeout = time.Duration(cfg.Transfer.UploadTimeoutSeconds) * time.Second
	if cfg.Transfer.UploadDir == "" {
		cfg.Transfer.UploadDir = os.TempDir()
	}

	if cfg.Cloud.SubjectPrefix == "" {
		cfg.Cloud.SubjectPrefix = "printlink"
	}
	if cfg.Cloud.ObjectBucket == "" {
		cfg.Cloud.ObjectBucket = "print-jobs"
	}

	if cfg.Firmware.FeedURL == "" {
		cfg.Firmware.FeedURL = "https://software.zaxe.com/z3new/firmware.json"
	}
	if len(cfg.Firmware.Models) == 0 {
		cfg.Firmware.Models = []string{"z3", "z3s"}
	}
	if cfg.Firmware.IntervalMinutes <= 0 {
		cfg.Firmware.IntervalMinutes = 10
	}
	cfg.Firmware.Interval = time.Duration(cfg.Firmware.IntervalMinutes) * time.Minute
	if cfg.Firmware.TimeoutSeconds <= 0 {
		cfg.Firmware.TimeoutSeconds = 15
	}
	cfg.Firmware.Timeout = time.Duration(cfg.Firmware.TimeoutSeconds) * time.Second

	if cfg.Archive.OutputDir == "" {
		cfg.Archive.OutputDir = os.TempDir()
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "printlink.db"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64
	}
}
