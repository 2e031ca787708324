package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every tunable the daemon recognizes. Required values come
// from the environment; everything else falls back to a default. Load fails
// hard on a missing required value so a misconfigured process never reaches
// the scheduler.
type Config struct {
	DatabaseURL string
	RPCURL      string

	// Operating wallet and token under management.
	WalletAddress string
	TokenMint     string

	PriceAPIURL string
	PoolsAPIURL string

	// Buyback tuning.
	SweepThresholdLamports uint64
	SwapFeeReserveLamports uint64
	BurnMarginBps          uint64
	BuybackInterval        time.Duration

	// Milestone tuning.
	MilestoneInterval time.Duration
	MilestoneCooldown time.Duration
	MilestoneFile     string

	// Quote resolution.
	QuoteTTL         time.Duration
	QuoteGraceFactor int
	SolUsdFallback   float64
	CallTimeout      time.Duration

	// Token economics.
	TotalSupply   uint64
	TokenDecimals uint64

	// Dashboard API.
	ListenAddr string
	JWTSecret  string

	// Optional bootstrap admin account. When both are set, startup ensures
	// an admin operator exists under this email.
	AdminEmail    string
	AdminPassword string
}

// Milestone is one entry of the YAML burn schedule.
type Milestone struct {
	MarketCapUsd  float64 `yaml:"marketCapUsd"`
	BurnQuantity  uint64  `yaml:"burnQuantity"`
	ShareOfSupply float64 `yaml:"shareOfSupply"`
}

// Load reads configuration from the environment. The returned Config is
// immutable by convention; nothing re-reads the environment after startup.
func Load() (Config, error) {
	cfg := Config{
		SweepThresholdLamports: 20_000_000, // 0.02 SOL
		SwapFeeReserveLamports: 5_000_000,  // 0.005 SOL kept for the burn fee
		BurnMarginBps:          100,        // retain 1% of acquired tokens
		BuybackInterval:        5 * time.Minute,
		MilestoneInterval:      time.Minute,
		MilestoneCooldown:      10 * time.Second,
		MilestoneFile:          "milestones.yaml",
		QuoteTTL:               30 * time.Second,
		QuoteGraceFactor:       10,
		SolUsdFallback:         150,
		CallTimeout:            10 * time.Second,
		TotalSupply:            1_000_000_000_000_000,
		TokenDecimals:          6,
		ListenAddr:             ":8080",
	}

	var err error
	if cfg.DatabaseURL, err = required("DATABASE_URL"); err != nil {
		return Config{}, err
	}
	if cfg.RPCURL, err = required("RPC_URL"); err != nil {
		return Config{}, err
	}
	if cfg.WalletAddress, err = required("WALLET_ADDRESS"); err != nil {
		return Config{}, err
	}
	if cfg.TokenMint, err = required("TOKEN_MINT"); err != nil {
		return Config{}, err
	}
	if cfg.JWTSecret, err = required("JWT_SECRET"); err != nil {
		return Config{}, err
	}

	cfg.PriceAPIURL = envOr("PRICE_API_URL", "https://api.dexscreener.com/latest/dex/tokens")
	cfg.PoolsAPIURL = envOr("POOLS_API_URL", "https://api.geckoterminal.com/api/v2/networks/solana/tokens")
	cfg.ListenAddr = envOr("LISTEN_ADDR", cfg.ListenAddr)
	cfg.MilestoneFile = envOr("MILESTONE_FILE", cfg.MilestoneFile)
	cfg.AdminEmail = os.Getenv("ADMIN_EMAIL")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")

	if (cfg.AdminEmail == "") != (cfg.AdminPassword == "") {
		return Config{}, fmt.Errorf("config: ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}

	if err := overrideUint(&cfg.SweepThresholdLamports, "SWEEP_THRESHOLD_LAMPORTS"); err != nil {
		return Config{}, err
	}
	if err := overrideUint(&cfg.SwapFeeReserveLamports, "SWAP_FEE_RESERVE_LAMPORTS"); err != nil {
		return Config{}, err
	}
	if err := overrideUint(&cfg.BurnMarginBps, "BURN_MARGIN_BPS"); err != nil {
		return Config{}, err
	}
	if err := overrideUint(&cfg.TotalSupply, "TOTAL_SUPPLY"); err != nil {
		return Config{}, err
	}
	if err := overrideUint(&cfg.TokenDecimals, "TOKEN_DECIMALS"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.BuybackInterval, "BUYBACK_INTERVAL"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.MilestoneInterval, "MILESTONE_INTERVAL"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.MilestoneCooldown, "MILESTONE_COOLDOWN"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.QuoteTTL, "QUOTE_TTL"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.CallTimeout, "CALL_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if err := overrideFloat(&cfg.SolUsdFallback, "SOL_USD_FALLBACK"); err != nil {
		return Config{}, err
	}

	if cfg.BurnMarginBps >= 10_000 {
		return Config{}, fmt.Errorf("config: BURN_MARGIN_BPS %d would retain the whole buy", cfg.BurnMarginBps)
	}

	return cfg, nil
}

// LoadMilestones parses the YAML burn schedule and returns it sorted by
// ascending market cap. Duplicate market caps are rejected because the
// trigger value doubles as the milestone's identity in the store.
func LoadMilestones(path string) ([]Milestone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read milestone schedule: %w", err)
	}

	var doc struct {
		Milestones []Milestone `yaml:"milestones"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse milestone schedule: %w", err)
	}
	if len(doc.Milestones) == 0 {
		return nil, fmt.Errorf("config: milestone schedule %s is empty", path)
	}

	sort.Slice(doc.Milestones, func(i, j int) bool {
		return doc.Milestones[i].MarketCapUsd < doc.Milestones[j].MarketCapUsd
	})

	seen := make(map[float64]bool, len(doc.Milestones))
	for _, m := range doc.Milestones {
		if m.MarketCapUsd <= 0 {
			return nil, fmt.Errorf("config: milestone market cap must be positive, got %v", m.MarketCapUsd)
		}
		if m.BurnQuantity == 0 {
			return nil, fmt.Errorf("config: milestone at %v has zero burn quantity", m.MarketCapUsd)
		}
		if seen[m.MarketCapUsd] {
			return nil, fmt.Errorf("config: duplicate milestone market cap %v", m.MarketCapUsd)
		}
		seen[m.MarketCapUsd] = true
	}

	return doc.Milestones, nil
}

func required(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("config: %s is required", key)
	}
	return v, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func overrideUint(dst *uint64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func overrideDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func overrideFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", key, err)
	}
	*dst = parsed
	return nil
}
