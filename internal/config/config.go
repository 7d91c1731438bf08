package config // package config loads application configuration from environment variables

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Supported values of DB_DRIVER.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Driver-specific fields are only required for
// the selected driver.
type Config struct {
	Env          string        // application environment (e.g. "dev", "prod")
	Port         string        // HTTP port to listen on
	DBDriver     string        // "mysql" (production) or "sqlite3" (development)
	DBUser       string        // database username
	DBPass       string        // database password (optional)
	DBHost       string        // database host address
	DBPort       string        // database port number
	DBName       string        // database name
	SQLitePath   string        // database file when DBDriver is sqlite3
	JWTSecret    string        // secret used to verify and sign JWTs
	AccessTTLMin int           // dev token time-to-live in minutes
	LockTimeout  time.Duration // upper bound for one ledger+reservation transaction
	AutoConfirm  bool          // confirm new reservations in the same transaction

	Scheduler SchedulerConfig
	Broker    BrokerConfig
	Telemetry TelemetryConfig
}

// Load reads configuration values from environment variables and returns a
// Config.  Every missing or malformed required variable is reported in the
// returned error.
func Load() (Config, error) {
	var l loader
	cfg := Config{
		Env:          l.must("APP_ENV"),
		Port:         envStr("APP_PORT", "8080"),
		DBDriver:     envStr("DB_DRIVER", DriverMySQL),
		DBPass:       os.Getenv("DB_PASS"),
		JWTSecret:    l.must("JWT_SECRET"),
		AccessTTLMin: envInt("ACCESS_TOKEN_TTL_MIN", 15),
		LockTimeout:  envDur("LOCK_TIMEOUT", 5*time.Second),
		AutoConfirm:  envBool("AUTO_CONFIRM", false),
	}
	switch cfg.DBDriver {
	case DriverMySQL:
		cfg.DBUser = l.must("DB_USER")
		cfg.DBHost = l.must("DB_HOST")
		cfg.DBPort = envStr("DB_PORT", "3306")
		cfg.DBName = l.must("DB_NAME")
	case DriverSQLite:
		cfg.SQLitePath = envStr("SQLITE_PATH", "hublend.db")
	default:
		l.fail("DB_DRIVER must be %q or %q, got %q", DriverMySQL, DriverSQLite, cfg.DBDriver)
	}
	if cfg.LockTimeout <= 0 {
		l.fail("LOCK_TIMEOUT must be positive")
	}

	var err error
	if cfg.Scheduler, err = LoadSchedulerConfig(); err != nil {
		l.fail("%v", err)
	}
	cfg.Broker = LoadBrokerConfig()
	cfg.Telemetry = LoadTelemetryConfig(cfg.Env)

	if err := l.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c Config) IsProduction() bool {
	return c.Env == "prod" || c.Env == "production"
}

// loader collects configuration problems so that a single start attempt
// reports all of them.
type loader struct {
	problems []string
}

// must retrieves the value of a required environment variable and records
// a problem when it is unset or empty.
func (l *loader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		l.fail("missing required env var: %s", key)
	}
	return v
}

func (l *loader) fail(format string, args ...any) {
	l.problems = append(l.problems, fmt.Sprintf(format, args...))
}

func (l *loader) err() error {
	if len(l.problems) == 0 {
		return nil
	}
	return fmt.Errorf("config: %s", strings.Join(l.problems, "; "))
}
