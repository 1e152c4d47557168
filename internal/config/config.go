package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"MaterialsMonitor/internal/domain"
)

const (
	configPathEnv   = "MATERIALS_MONITOR_CONFIG"
	databasePathEnv = "DATABASE_PATH"
	logLevelEnv     = "LOG_LEVEL"

	defaultDedupWindowDays   = 30
	defaultSimilarityT       = 0.6
	defaultMinConfidence     = 0.6
	defaultRequestsPerSecond = 2.0
	defaultBurst             = 5
)

// Config holds high-level settings required across the application.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Feeds    []FeedConfig   `yaml:"feeds"`
	Tagging  TaggingConfig  `yaml:"tagging"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Quality  QualityConfig  `yaml:"quality"`
}

// DatabaseConfig describes the SQLite database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls console log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RateLimitConfig bounds upstream request rates per feed.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// FeedConfig describes a single upstream feed and its pipeline tuning.
type FeedConfig struct {
	ID                   string            `yaml:"id"`
	Kind                 string            `yaml:"kind"`
	Adapter              string            `yaml:"adapter"`
	Endpoint             string            `yaml:"endpoint"`
	AuthTokenEnv         string            `yaml:"authTokenEnv"`
	Priority             int               `yaml:"priority"`
	DedupWindowDays      int               `yaml:"dedupWindowDays"`
	SimilarityThreshold  float64           `yaml:"similarityThreshold"`
	MinResolveConfidence float64           `yaml:"minResolveConfidence"`
	RateLimit            RateLimitConfig   `yaml:"rateLimit"`
	Options              map[string]string `yaml:"options"`
}

// SourceKind returns the feed kind as a domain value.
func (f FeedConfig) SourceKind() domain.SourceKind {
	return domain.SourceKind(f.Kind)
}

// DedupWindow resolves the configured window to a duration.
func (f FeedConfig) DedupWindow() time.Duration {
	days := f.DedupWindowDays
	if days <= 0 {
		days = defaultDedupWindowDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// AuthToken reads the feed credential from its configured env variable.
func (f FeedConfig) AuthToken() string {
	if f.AuthTokenEnv == "" {
		return ""
	}
	return os.Getenv(f.AuthTokenEnv)
}

// TagRule maps a keyword pattern set to a tag with a severity weight and
// a reader-facing explanation surfaced alongside the tag.
type TagRule struct {
	Tag          string   `yaml:"tag"`
	Keywords     []string `yaml:"keywords"`
	Severity     float64  `yaml:"severity"`
	WhyItMatters string   `yaml:"whyItMatters"`
}

// TaggingConfig is the versioned, externally curated rule table.
type TaggingConfig struct {
	Version string    `yaml:"version"`
	Rules   []TagRule `yaml:"rules"`
}

// ScoringConfig holds the deterministic score weights.
type ScoringConfig struct {
	EntityWeight float64            `yaml:"entityWeight"`
	TrustWeights map[string]float64 `yaml:"trustWeights"`
}

// QualityConfig classifies upstream domains and filters known spam.
type QualityConfig struct {
	Allowlist map[string]string `yaml:"allowlist"`
	Blocklist []string          `yaml:"blocklist"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyFeedDefaults()

	if len(cfg.Feeds) == 0 {
		cfg.Feeds = defaultConfig().Feeds
	}

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) applyFeedDefaults() {
	for i := range c.Feeds {
		feed := &c.Feeds[i]
		if feed.DedupWindowDays <= 0 {
			feed.DedupWindowDays = defaultDedupWindowDays
		}
		if feed.SimilarityThreshold <= 0 {
			feed.SimilarityThreshold = defaultSimilarityT
		}
		if feed.MinResolveConfidence <= 0 {
			feed.MinResolveConfidence = defaultMinConfidence
		}
		if feed.RateLimit.RequestsPerSecond <= 0 {
			feed.RateLimit.RequestsPerSecond = defaultRequestsPerSecond
		}
		if feed.RateLimit.Burst <= 0 {
			feed.RateLimit.Burst = defaultBurst
		}
	}
}

func mergeConfig(base, override Config) Config {
	if override.Database.Path != "" {
		base.Database = override.Database
	}
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}
	if len(override.Feeds) > 0 {
		base.Feeds = override.Feeds
	}
	if override.Tagging.Version != "" || len(override.Tagging.Rules) > 0 {
		base.Tagging = override.Tagging
	}
	if override.Scoring.EntityWeight > 0 {
		base.Scoring.EntityWeight = override.Scoring.EntityWeight
	}
	if len(override.Scoring.TrustWeights) > 0 {
		base.Scoring.TrustWeights = override.Scoring.TrustWeights
	}
	if len(override.Quality.Allowlist) > 0 {
		base.Quality.Allowlist = override.Quality.Allowlist
	}
	if len(override.Quality.Blocklist) > 0 {
		base.Quality.Blocklist = override.Quality.Blocklist
	}
	return base
}

func defaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Path: "materials.db"},
		Logging:  LoggingConfig{Level: "info"},
		Feeds: []FeedConfig{
			{
				ID:       "mining-rss",
				Kind:     string(domain.KindIndustry),
				Adapter:  "rss",
				Endpoint: "https://www.mining.com/feed/",
				Priority: 2,
			},
			{
				ID:       "gdelt-doc",
				Kind:     string(domain.KindNews),
				Adapter:  "jsonapi",
				Endpoint: "https://api.gdeltproject.org/api/v2/doc/doc",
				Priority: 3,
				Options: map[string]string{
					"query": "copper AND (mine OR mining OR smelter OR refinery OR export OR tariff OR strike OR sanction)",
				},
			},
			{
				ID:       "treasury-press",
				Kind:     string(domain.KindPolicy),
				Adapter:  "htmllist",
				Endpoint: "https://home.treasury.gov/news/press-releases",
				Priority: 1,
				Options: map[string]string{
					"linkContains": "/news/press-releases/",
				},
			},
		},
		Tagging: TaggingConfig{
			Version: "default-v1",
			Rules: []TagRule{
				{Tag: "export-restriction", Severity: 0.9, Keywords: []string{
					"export control", "export ban", "export restriction", "quota", "tariff", "license", "curb", "restricts export",
				}, WhyItMatters: "Export controls can remove significant supply from the market with little warning, forcing buyers to requalify sources."},
				{Tag: "sanctions", Severity: 0.85, Keywords: []string{
					"sanction", "embargo", "designation", "sdn",
				}, WhyItMatters: "Sanctions can cut off producers or trading intermediaries overnight and complicate settlement for existing contracts."},
				{Tag: "supply-disruption", Severity: 0.8, Keywords: []string{
					"shutdown", "halt", "collapse", "force majeure", "outage",
				}, WhyItMatters: "Lost smelter or mine output tightens regional supply and often shows up in premiums before exchange prices move."},
				{Tag: "price-shock", Severity: 0.7, Keywords: []string{
					"price surge", "price spike", "record high", "rally", "shortage",
				}, WhyItMatters: "Rapid price moves signal stress in physical availability and can trigger hedging and substitution decisions."},
				{Tag: "labor-action", Severity: 0.6, Keywords: []string{
					"strike", "protest", "union", "walkout",
				}, WhyItMatters: "Strikes at major operations can halt a meaningful share of global output for weeks."},
				{Tag: "logistics", Severity: 0.5, Keywords: []string{
					"port", "shipping", "canal", "blockade", "freight", "rail",
				}, WhyItMatters: "Chokepoint and freight disruptions delay shipments even when production is unaffected."},
			},
		},
		Scoring: ScoringConfig{
			EntityWeight: 0.5,
			TrustWeights: map[string]float64{
				string(domain.KindPolicy):   1.0,
				string(domain.KindMarket):   0.8,
				string(domain.KindIndustry): 0.7,
				string(domain.KindNews):     0.5,
			},
		},
		Quality: QualityConfig{
			Allowlist: map[string]string{
				"home.treasury.gov": string(domain.QualityOfficial),
				"ofac.treasury.gov": string(domain.QualityOfficial),
				"www.state.gov":     string(domain.QualityOfficial),
				"www.mining.com":    string(domain.QualityIndustry),
				"www.reuters.com":   string(domain.QualityMajorMedia),
			},
			Blocklist: []string{
				"insidermonkey.com",
				"tickerreport.com",
				"themarketsdaily.com",
			},
		},
	}
}
