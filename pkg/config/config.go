package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	BeaconDriverSimulated = "simulated"
	BeaconDriverBluetooth = "bluetooth"

	KVBackendSQLite = "sqlite"
	KVBackendRedis  = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Local    LocalConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Beacon   BeaconConfig
	Scan     ScanConfig
	Schedule ScheduleConfig
	Sync     SyncConfig
	Export   ExportConfig
}

type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// LocalConfig points at the on-device durable store used for the write queue
// and key/value flags.
type LocalConfig struct {
	SQLitePath string
	KVBackend  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// BeaconConfig selects the hardware driver and its tuning.
type BeaconConfig struct {
	Driver            string
	MinSignalStrength int
	DiscoveryWindow   time.Duration
	SettleDelay       time.Duration
	StateWaitTimeout  time.Duration
}

// ScanConfig governs the scan session countdown and duplicate suppression.
type ScanConfig struct {
	DefaultDuration time.Duration
	DebounceWindow  time.Duration
	// SimulatedDebounce applies when the simulated driver is active.
	SimulatedDebounce time.Duration
	TickInterval      time.Duration
}

// ScheduleConfig defines the working-day window for the schedule gate.
type ScheduleConfig struct {
	Timezone    string
	OpeningTime string
	ClosingTime string
	GraceWindow time.Duration
}

// SyncConfig tunes the offline write queue replay.
type SyncConfig struct {
	ReplayInterval time.Duration
	MaxRetries     int
	Workers        int
	BatchSize      int
	WriteTimeout   time.Duration
}

// ExportConfig controls archived attendance sheets.
type ExportConfig struct {
	Dir             string
	SigningSecret   string
	TTL             time.Duration
	CleanupInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Driver:       v.GetString("DB_DRIVER"),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Local = LocalConfig{
		SQLitePath: v.GetString("LOCAL_SQLITE_PATH"),
		KVBackend:  strings.ToLower(v.GetString("LOCAL_KV_BACKEND")),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Issuer:     v.GetString("JWT_ISSUER"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 12*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Beacon = BeaconConfig{
		Driver:            strings.ToLower(v.GetString("BEACON_DRIVER")),
		MinSignalStrength: v.GetInt("BEACON_MIN_SIGNAL_STRENGTH"),
		DiscoveryWindow:   parseDuration(v.GetString("BEACON_DISCOVERY_WINDOW"), 0),
		SettleDelay:       parseDuration(v.GetString("BEACON_SETTLE_DELAY"), 1500*time.Millisecond),
		StateWaitTimeout:  parseDuration(v.GetString("BEACON_STATE_WAIT_TIMEOUT"), 3*time.Second),
	}

	cfg.Scan = ScanConfig{
		DefaultDuration:   parseDuration(v.GetString("SCAN_DEFAULT_DURATION"), 5*time.Minute),
		DebounceWindow:    parseDuration(v.GetString("SCAN_DEBOUNCE_WINDOW"), 0),
		SimulatedDebounce: parseDuration(v.GetString("SCAN_SIMULATED_DEBOUNCE"), 2*time.Second),
		TickInterval:      parseDuration(v.GetString("SCAN_TICK_INTERVAL"), time.Second),
	}

	cfg.Schedule = ScheduleConfig{
		Timezone:    v.GetString("SCHEDULE_TIMEZONE"),
		OpeningTime: v.GetString("SCHEDULE_OPENING_TIME"),
		ClosingTime: v.GetString("SCHEDULE_CLOSING_TIME"),
		GraceWindow: parseDuration(v.GetString("SCHEDULE_GRACE_WINDOW"), 30*time.Minute),
	}

	cfg.Sync = SyncConfig{
		ReplayInterval: parseDuration(v.GetString("SYNC_REPLAY_INTERVAL"), 30*time.Second),
		MaxRetries:     v.GetInt("SYNC_MAX_RETRIES"),
		Workers:        v.GetInt("SYNC_WORKERS"),
		BatchSize:      v.GetInt("SYNC_BATCH_SIZE"),
		WriteTimeout:   parseDuration(v.GetString("SYNC_WRITE_TIMEOUT"), 5*time.Second),
	}

	cfg.Export = ExportConfig{
		Dir:             v.GetString("EXPORT_DIR"),
		SigningSecret:   v.GetString("EXPORT_SIGNING_SECRET"),
		TTL:             parseDuration(v.GetString("EXPORT_TTL"), 24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("EXPORT_CLEANUP_INTERVAL"), time.Hour),
	}
	if cfg.Export.SigningSecret == "" {
		cfg.Export.SigningSecret = cfg.JWT.Secret
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "attendance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 5)
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)

	v.SetDefault("LOCAL_SQLITE_PATH", "./data/scanner.db")
	v.SetDefault("LOCAL_KV_BACKEND", KVBackendSQLite)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "attendance-backend")
	v.SetDefault("JWT_EXPIRATION", "12h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BEACON_DRIVER", BeaconDriverSimulated)
	v.SetDefault("BEACON_MIN_SIGNAL_STRENGTH", -100)
	v.SetDefault("BEACON_DISCOVERY_WINDOW", "0s")
	v.SetDefault("BEACON_SETTLE_DELAY", "1500ms")
	v.SetDefault("BEACON_STATE_WAIT_TIMEOUT", "3s")

	v.SetDefault("SCAN_DEFAULT_DURATION", "5m")
	v.SetDefault("SCAN_DEBOUNCE_WINDOW", "0s")
	v.SetDefault("SCAN_SIMULATED_DEBOUNCE", "2s")
	v.SetDefault("SCAN_TICK_INTERVAL", "1s")

	v.SetDefault("SCHEDULE_TIMEZONE", "Local")
	v.SetDefault("SCHEDULE_OPENING_TIME", "08:00")
	v.SetDefault("SCHEDULE_CLOSING_TIME", "17:00")
	v.SetDefault("SCHEDULE_GRACE_WINDOW", "30m")

	v.SetDefault("SYNC_REPLAY_INTERVAL", "30s")
	v.SetDefault("SYNC_MAX_RETRIES", 5)
	v.SetDefault("SYNC_WORKERS", 1)
	v.SetDefault("SYNC_BATCH_SIZE", 50)
	v.SetDefault("SYNC_WRITE_TIMEOUT", "5s")

	v.SetDefault("EXPORT_DIR", "./data/exports")
	v.SetDefault("EXPORT_SIGNING_SECRET", "")
	v.SetDefault("EXPORT_TTL", "24h")
	v.SetDefault("EXPORT_CLEANUP_INTERVAL", "1h")
}

// DebounceFor returns the debounce window that applies to the given driver.
func (c ScanConfig) DebounceFor(driver string) time.Duration {
	if driver == BeaconDriverSimulated {
		return c.SimulatedDebounce
	}
	return c.DebounceWindow
}

// Location resolves the configured schedule timezone, falling back to local time.
func (c ScheduleConfig) Location() *time.Location {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// viper reports a missing explicit config file as a plain fs error rather than
// ConfigFileNotFoundError.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
