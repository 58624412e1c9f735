package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/vctt94/slotbisonrelay/pkg/orchestrator"
	"github.com/vctt94/slotbisonrelay/pkg/turbo"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment variables read on top of the config
// file, e.g. SLOT_SERVERURL.
const EnvPrefix = "SLOT_"

// AppConfig is the slot client configuration. It is read from a YAML file
// in the data dir, then from a .env file and SLOT_* variables, then from
// command line overrides.
type AppConfig struct {
	// Data directory. Not stored in the file.
	DataDir string `yaml:"-"`

	// Backend and player identity.
	ServerURL  string `yaml:"serverurl"`
	OperatorID string `yaml:"operatorid"`
	GameID     string `yaml:"gameid"`
	PlayerID   string `yaml:"playerid"`
	Currency   string `yaml:"currency"`
	Language   string `yaml:"language"`
	LaunchURL  string `yaml:"launchurl"`

	SpinTimeout    time.Duration `yaml:"spintimeout"`
	BalanceTimeout time.Duration `yaml:"balancetimeout"`

	// Game settings. Money values are decimal strings.
	Lines                int      `yaml:"lines"`
	BetLadder            []string `yaml:"betladder"`
	DefaultBet           string   `yaml:"defaultbet"`
	EnhancedMultiplier   string   `yaml:"enhancedmultiplier"`
	BuyFeatureMultiplier string   `yaml:"buyfeaturemultiplier"`
	BigWinMultiplier     string   `yaml:"bigwinmultiplier"`
	GridColumns          int      `yaml:"gridcolumns"`
	GridRows             int      `yaml:"gridrows"`

	Timing turbo.TimingProfile `yaml:"timing"`
	Turbo  turbo.Multipliers   `yaml:"turbo"`

	// Logging and metrics.
	LogFile     string `yaml:"logfile"`
	DebugLevel  string `yaml:"debuglevel"`
	MaxLogFiles int    `yaml:"maxlogfiles"`
	MetricsAddr string `yaml:"metricsaddr"`
	DBFile      string `yaml:"dbfile"`
}

// DefaultConfig returns the settings written to a fresh config file.
func DefaultConfig(datadir string) *AppConfig {
	ladder := make([]string, 0, len(orchestrator.DefaultBetLadder))
	for _, b := range orchestrator.DefaultBetLadder {
		ladder = append(ladder, b.StringFixed(2))
	}
	return &AppConfig{
		DataDir:              datadir,
		ServerURL:            "http://127.0.0.1:8088",
		OperatorID:           "demo",
		GameID:               "classic-5x3",
		Currency:             "USD",
		Language:             "en",
		SpinTimeout:          orchestrator.DefaultSpinTimeout,
		BalanceTimeout:       orchestrator.DefaultBalanceTimeout,
		Lines:                orchestrator.DefaultLines,
		BetLadder:            ladder,
		DefaultBet:           "1.00",
		EnhancedMultiplier:   orchestrator.DefaultEnhancedMultiplier.String(),
		BuyFeatureMultiplier: orchestrator.DefaultBuyFeatureMultiplier.String(),
		BigWinMultiplier:     orchestrator.DefaultBigWinMultiplier.String(),
		GridColumns:          5,
		GridRows:             3,
		Timing:               turbo.DefaultBaseline,
		Turbo:                turbo.DefaultMultipliers(),
		LogFile:              filepath.Join(datadir, "logs", "slotclient.log"),
		DebugLevel:           "info",
		MaxLogFiles:          3,
		DBFile:               filepath.Join(datadir, "slotclient.db"),
	}
}

// LoadConfig loads appName.yaml from datadir, writing a default one when it
// does not exist, and applies the environment overlay.
func LoadConfig(appName, datadir string) (*AppConfig, error) {
	if datadir == "" {
		datadir = dcrutil.AppDataDir(appName, false)
	}
	if err := os.MkdirAll(datadir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create datadir %s: %w", datadir, err)
	}

	cfg := DefaultConfig(datadir)
	path := filepath.Join(datadir, appName+".yaml")
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.DataDir = datadir

	// A missing .env is fine.
	envFile := filepath.Join(datadir, ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg.SetConfigValues(envValues(os.Environ()))

	return cfg, nil
}

// Save writes the config as YAML.
func (cfg *AppConfig) Save(path string) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, b, 0600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// envValues picks the SLOT_* variables out of environ and converts the
// numeric ones, keyed the way SetConfigValues expects.
func envValues(environ []string) map[string]interface{} {
	values := make(map[string]interface{})
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) || v == "" {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
		switch key {
		case "lines", "maxlogfiles", "gridcolumns", "gridrows":
			if n, err := strconv.Atoi(v); err == nil {
				values[key] = n
			}
		case "spintimeout", "balancetimeout":
			if d, err := time.ParseDuration(v); err == nil {
				values[key] = d
			}
		case "betladder":
			values[key] = strings.Split(v, ",")
		default:
			values[key] = v
		}
	}
	return values
}

// SetConfigValues allows the main app to override configuration values from
// flags or other sources.
func (cfg *AppConfig) SetConfigValues(values map[string]interface{}) {
	for key, value := range values {
		switch key {
		case "serverurl", "url":
			if v, ok := value.(string); ok && v != "" {
				cfg.ServerURL = v
			}
		case "operatorid", "operator":
			if v, ok := value.(string); ok && v != "" {
				cfg.OperatorID = v
			}
		case "gameid", "game":
			if v, ok := value.(string); ok && v != "" {
				cfg.GameID = v
			}
		case "playerid", "id":
			if v, ok := value.(string); ok && v != "" {
				cfg.PlayerID = v
			}
		case "currency":
			if v, ok := value.(string); ok && v != "" {
				cfg.Currency = v
			}
		case "language", "lang":
			if v, ok := value.(string); ok && v != "" {
				cfg.Language = v
			}
		case "launchurl":
			if v, ok := value.(string); ok && v != "" {
				cfg.LaunchURL = v
			}
		case "spintimeout":
			if v, ok := value.(time.Duration); ok && v > 0 {
				cfg.SpinTimeout = v
			}
		case "balancetimeout":
			if v, ok := value.(time.Duration); ok && v > 0 {
				cfg.BalanceTimeout = v
			}
		case "lines":
			if v, ok := value.(int); ok && v > 0 {
				cfg.Lines = v
			}
		case "betladder":
			if v, ok := value.([]string); ok && len(v) > 0 {
				cfg.BetLadder = v
			}
		case "defaultbet", "bet":
			if v, ok := value.(string); ok && v != "" {
				cfg.DefaultBet = v
			}
		case "enhancedmultiplier":
			if v, ok := value.(string); ok && v != "" {
				cfg.EnhancedMultiplier = v
			}
		case "buyfeaturemultiplier":
			if v, ok := value.(string); ok && v != "" {
				cfg.BuyFeatureMultiplier = v
			}
		case "bigwinmultiplier":
			if v, ok := value.(string); ok && v != "" {
				cfg.BigWinMultiplier = v
			}
		case "gridcolumns":
			if v, ok := value.(int); ok && v > 0 {
				cfg.GridColumns = v
			}
		case "gridrows":
			if v, ok := value.(int); ok && v > 0 {
				cfg.GridRows = v
			}
		case "logfile":
			if v, ok := value.(string); ok && v != "" {
				cfg.LogFile = v
			}
		case "debuglevel", "debug":
			if v, ok := value.(string); ok && v != "" {
				cfg.DebugLevel = v
			}
		case "maxlogfiles":
			if v, ok := value.(int); ok {
				cfg.MaxLogFiles = v
			}
		case "metricsaddr":
			if v, ok := value.(string); ok {
				cfg.MetricsAddr = v
			}
		case "dbfile":
			if v, ok := value.(string); ok && v != "" {
				cfg.DBFile = v
			}
		}
	}
}

// ValidateConfig checks that all required configuration values are present
// and well formed.
func (cfg *AppConfig) ValidateConfig() error {
	var missingConfigs []string

	if cfg.ServerURL == "" {
		missingConfigs = append(missingConfigs, "ServerURL")
	}
	if cfg.OperatorID == "" {
		missingConfigs = append(missingConfigs, "OperatorID")
	}
	if cfg.GameID == "" {
		missingConfigs = append(missingConfigs, "GameID")
	}
	if cfg.Currency == "" {
		missingConfigs = append(missingConfigs, "Currency")
	}
	if len(missingConfigs) > 0 {
		return fmt.Errorf("missing required configuration values: %v", missingConfigs)
	}

	if _, err := cfg.Bets(); err != nil {
		return err
	}
	if _, err := cfg.Bet(); err != nil {
		return err
	}
	for name, s := range map[string]string{
		"EnhancedMultiplier":   cfg.EnhancedMultiplier,
		"BuyFeatureMultiplier": cfg.BuyFeatureMultiplier,
		"BigWinMultiplier":     cfg.BigWinMultiplier,
	} {
		if s == "" {
			continue
		}
		if _, err := decimal.NewFromString(s); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, s, err)
		}
	}
	if cfg.Lines <= 0 {
		return fmt.Errorf("invalid Lines %d", cfg.Lines)
	}
	if cfg.GridColumns <= 0 || cfg.GridRows <= 0 {
		return fmt.Errorf("invalid grid size %dx%d", cfg.GridColumns, cfg.GridRows)
	}
	if !cfg.Turbo.Valid() {
		return fmt.Errorf("invalid turbo multipliers %+v", cfg.Turbo)
	}
	return nil
}

// Bets parses the bet ladder.
func (cfg *AppConfig) Bets() ([]decimal.Decimal, error) {
	bets := make([]decimal.Decimal, 0, len(cfg.BetLadder))
	for _, s := range cfg.BetLadder {
		b, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil || !b.IsPositive() {
			return nil, fmt.Errorf("invalid bet ladder step %q", s)
		}
		bets = append(bets, b)
	}
	return bets, nil
}

// Bet parses the default bet. Zero means the lowest ladder step.
func (cfg *AppConfig) Bet() (decimal.Decimal, error) {
	if cfg.DefaultBet == "" {
		return decimal.Zero, nil
	}
	b, err := decimal.NewFromString(cfg.DefaultBet)
	if err != nil || b.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid DefaultBet %q", cfg.DefaultBet)
	}
	return b, nil
}

func optDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
