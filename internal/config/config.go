// Package config loads the environment-driven configuration for the
// strategy evaluator and executor scheduler entry points.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// defaultMaxRoll is used when no YAML overlay is given or the overlay leaves
// max_roll unset (or zero).
const defaultMaxRoll = 0.10

// defaultStoreDSN is the sqlite file both workers open when STORE_DSN is
// unset. Table provisioning is out of scope (§1); this is the one place a
// default connection string lives.
const defaultStoreDSN = "controlplane.db"

// DefaultBroker is the only configured broker adapter (SPEC_FULL §4.F step 2:
// "here IG"). The strategy writes its orders under this broker, and the
// executor skips inserted orders that name any other broker.
const DefaultBroker = "IG"

// Overlay holds the tunables that have sane defaults and so belong in an
// optional YAML file rather than being required per Lambda environment.
type Overlay struct {
	MaxRoll   float64         `yaml:"max_roll"`
	Retry     RetryOverlay    `yaml:"retry"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// RetryOverlay configures the shared retry.Config.
type RetryOverlay struct {
	MaxRetries            int `yaml:"max_retries"`
	InitialBackoffSeconds int `yaml:"initial_backoff_seconds"`
	MaxBackoffSeconds     int `yaml:"max_backoff_seconds"`
}

// DashboardConfig configures the optional read-only dashboard.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// StrategyConfig is the strategy evaluator's configuration, per SPEC_FULL §6.
type StrategyConfig struct {
	SecuritiesTable string
	OrdersTable     string
	QuotesTable     string
	DebugFolder     string
	RollFile        string
	BackTest        bool
	StdSize         float64
	StopDistance    *float64
	MaxRoll         float64
	StoreDSN        string
	Dashboard       DashboardConfig
}

// ExecutorConfig is the executor scheduler's configuration, per SPEC_FULL §6.
type ExecutorConfig struct {
	IGURL           string
	APIKey          string
	Identifier      string
	Password        string
	EmailAddress    string
	EmailUser       string
	EmailPassword   string
	EmailSMTP       string
	SecuritiesTable string
	OrdersTable     string
	StoreDSN        string
	Retry           RetryOverlay
	Dashboard       DashboardConfig
}

func requireEnv(name string) (string, error) {
	v := os.Getenv(name)
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("missing required environment variable %s", name)
	}
	return v, nil
}

func loadOverlay() (Overlay, error) {
	overlay := Overlay{MaxRoll: defaultMaxRoll}

	path := os.Getenv("CONFIG_FILE")
	if strings.TrimSpace(path) == "" {
		return overlay, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 - operator-configured path
	if err != nil {
		return overlay, fmt.Errorf("reading config overlay %q: %w", path, err)
	}

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&overlay); err != nil {
		return overlay, fmt.Errorf("parsing config overlay %q: %w", path, err)
	}
	if overlay.MaxRoll == 0 {
		overlay.MaxRoll = defaultMaxRoll
	}
	return overlay, nil
}

// LoadStrategyConfig reads the strategy evaluator's required and optional
// environment variables, failing fast on the first missing required one.
func LoadStrategyConfig() (*StrategyConfig, error) {
	cfg := &StrategyConfig{}

	for _, req := range []struct {
		name string
		dst  *string
	}{
		{"SECURITIES_TABLE", &cfg.SecuritiesTable},
		{"ORDERS_TABLE", &cfg.OrdersTable},
		{"QUOTES_TABLE", &cfg.QuotesTable},
		{"DEBUG_FOLDER", &cfg.DebugFolder},
		{"ROLL_FILE", &cfg.RollFile},
	} {
		v, err := requireEnv(req.name)
		if err != nil {
			return nil, err
		}
		*req.dst = v
	}

	backTestRaw, err := requireEnv("BACK_TEST")
	if err != nil {
		return nil, err
	}
	backTest, err := strconv.ParseBool(backTestRaw)
	if err != nil {
		return nil, fmt.Errorf("BACK_TEST must be a boolean: %w", err)
	}
	cfg.BackTest = backTest

	stdSizeRaw, err := requireEnv("STD_SIZE")
	if err != nil {
		return nil, err
	}
	stdSize, err := strconv.ParseFloat(stdSizeRaw, 64)
	if err != nil {
		return nil, fmt.Errorf("STD_SIZE must be numeric: %w", err)
	}
	cfg.StdSize = stdSize

	if raw := os.Getenv("STOP_DISTANCE"); strings.TrimSpace(raw) != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("STOP_DISTANCE must be numeric: %w", err)
		}
		cfg.StopDistance = &v
	}

	overlay, err := loadOverlay()
	if err != nil {
		return nil, err
	}
	cfg.MaxRoll = overlay.MaxRoll
	cfg.Dashboard = overlay.Dashboard
	cfg.StoreDSN = storeDSN()

	return cfg, nil
}

func storeDSN() string {
	if v := strings.TrimSpace(os.Getenv("STORE_DSN")); v != "" {
		return v
	}
	return defaultStoreDSN
}

// LoadExecutorConfig reads the executor's required and optional environment
// variables.
func LoadExecutorConfig() (*ExecutorConfig, error) {
	cfg := &ExecutorConfig{}

	fields := map[string]*string{
		"IG_URL":           &cfg.IGURL,
		"X_IG_API_KEY":     &cfg.APIKey,
		"IDENTIFIER":       &cfg.Identifier,
		"PASSWORD":         &cfg.Password,
		"EMAIL_ADDRESS":    &cfg.EmailAddress,
		"EMAIL_USER":       &cfg.EmailUser,
		"EMAIL_PASSWORD":   &cfg.EmailPassword,
		"EMAIL_SMTP":       &cfg.EmailSMTP,
		"SECURITIES_TABLE": &cfg.SecuritiesTable,
		"ORDERS_TABLE":     &cfg.OrdersTable,
	}
	for name, dst := range fields {
		v, err := requireEnv(name)
		if err != nil {
			return nil, err
		}
		*dst = v
	}

	overlay, err := loadOverlay()
	if err != nil {
		return nil, err
	}
	cfg.Retry = overlay.Retry
	cfg.Dashboard = overlay.Dashboard
	cfg.StoreDSN = storeDSN()

	return cfg, nil
}

// TrackedKey identifies one (symbol, broker, maturity) combination the
// dashboard reports a net position for. It mirrors dashboard.StoreKey
// without this package importing the dashboard package.
type TrackedKey struct {
	Symbol   string
	Broker   string
	Maturity string
}

// StandaloneDashboardConfig is cmd/dashboard's configuration: the store it
// reads from plus the fixed set of positions it reports on (§4.J - the
// dashboard has no "list distinct keys" query of its own).
type StandaloneDashboardConfig struct {
	StoreDSN    string
	DebugFolder string
	RollFile    string
	Port        int
	Tracked     []TrackedKey
}

// LoadDashboardConfig reads cmd/dashboard's environment variables. Unlike
// the two workers, the dashboard has no strictly required variable set: an
// unset TRACKED_POSITIONS just means an empty dashboard.
func LoadDashboardConfig() (*StandaloneDashboardConfig, error) {
	cfg := &StandaloneDashboardConfig{
		StoreDSN:    storeDSN(),
		DebugFolder: os.Getenv("DEBUG_FOLDER"),
		RollFile:    os.Getenv("ROLL_FILE"),
		Port:        8080,
	}

	if raw := strings.TrimSpace(os.Getenv("DASHBOARD_PORT")); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("DASHBOARD_PORT must be an integer: %w", err)
		}
		cfg.Port = port
	}

	raw := strings.TrimSpace(os.Getenv("TRACKED_POSITIONS"))
	if raw == "" {
		return cfg, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("TRACKED_POSITIONS entry %q must be SYMBOL:BROKER:MATURITY", entry)
		}
		cfg.Tracked = append(cfg.Tracked, TrackedKey{Symbol: parts[0], Broker: parts[1], Maturity: parts[2]})
	}
	return cfg, nil
}
