// Package config handles application configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Docs       DocsConfig       `mapstructure:"docs"`
	Logs       LogsConfig       `mapstructure:"logs"`
	OPA        OPAConfig        `mapstructure:"opa"`
	OTEL       OTELConfig       `mapstructure:"otel"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string `mapstructure:"port"`
	Host            string `mapstructure:"host"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	BearerToken     string `mapstructure:"bearer_token"`
}

// DatabaseConfig holds PostgreSQL configuration for the SQL tool.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PolicyConfig holds the decision engine thresholds.
type PolicyConfig struct {
	Mode                     string   `mapstructure:"mode"`
	HighRiskBlock            float64  `mapstructure:"high_risk_block"`
	AskThreshold             float64  `mapstructure:"ask_threshold"`
	InternalEmailDomains     []string `mapstructure:"internal_email_domains"`
	EmailDomainAllowlist     []string `mapstructure:"email_domain_allowlist"`
	TaintHistoryWindow       int      `mapstructure:"taint_history_window"`
	RiskBudget               float64  `mapstructure:"risk_budget"`
	RiskBudgetBlockThreshold float64  `mapstructure:"risk_budget_block_threshold"`
	RiskBudgetAskThreshold   float64  `mapstructure:"risk_budget_ask_threshold"`
	DriftAskThreshold        float64  `mapstructure:"drift_ask_threshold"`
	StepTimeoutSeconds       int      `mapstructure:"step_timeout_seconds"`
}

// ClassifierConfig locates the sensitivity registry.
type ClassifierConfig struct {
	Path string `mapstructure:"path"`
}

// DocsConfig holds the allowed docs base for file tools.
type DocsConfig struct {
	Base string `mapstructure:"base"`
}

// LogsConfig holds run-log locations.
type LogsConfig struct {
	Dir      string `mapstructure:"dir"`
	EmailLog string `mapstructure:"email_log"`
}

// OPAConfig holds the optional tool-access pre-gate configuration.
type OPAConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	BundlePath string   `mapstructure:"bundle_path"`
	PolicyDirs []string `mapstructure:"policy_dirs"`
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"`
}

// Load reads configuration from file and environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/runtime-agent-guard")
		v.AddConfigPath("$HOME/.runtime-agent-guard")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// Config file not found - continue with defaults and env vars
		}
	}

	v.SetEnvPrefix("GUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 15)
	v.SetDefault("server.shutdown_timeout", 30)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "agent_ro")
	v.SetDefault("database.database", "agentdb")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)

	// Policy defaults mirror guard.DefaultPolicyConfig
	v.SetDefault("policy.mode", "balanced")
	v.SetDefault("policy.high_risk_block", 0.90)
	v.SetDefault("policy.ask_threshold", 0.60)
	v.SetDefault("policy.internal_email_domains", []string{"example.com"})
	v.SetDefault("policy.taint_history_window", 8)
	v.SetDefault("policy.risk_budget", 3.0)
	v.SetDefault("policy.risk_budget_block_threshold", -0.5)
	v.SetDefault("policy.risk_budget_ask_threshold", 0.2)
	v.SetDefault("policy.drift_ask_threshold", 0.85)
	v.SetDefault("policy.step_timeout_seconds", 30)

	// Paths
	v.SetDefault("classifier.path", "configs/classification.json")
	v.SetDefault("docs.base", "data/docs")
	v.SetDefault("logs.dir", "logs")
	v.SetDefault("logs.email_log", "logs/email.log")

	// OPA defaults
	v.SetDefault("opa.enabled", false)

	// OTEL defaults
	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.service_name", "runtime-agent-guard")
	v.SetDefault("otel.service_version", "0.1.0")
	v.SetDefault("otel.environment", "dev")
}

// GuardPolicy converts the file/env view into the engine's policy config.
func (c *Config) GuardPolicy() guard.PolicyConfig {
	mode := guard.ModeBalanced
	if strings.EqualFold(c.Policy.Mode, string(guard.ModeStrict)) {
		mode = guard.ModeStrict
	}
	return guard.PolicyConfig{
		Mode:                     mode,
		HighRiskBlock:            c.Policy.HighRiskBlock,
		AskThreshold:             c.Policy.AskThreshold,
		InternalEmailDomains:     c.Policy.InternalEmailDomains,
		EmailDomainAllowlist:     c.Policy.EmailDomainAllowlist,
		TaintHistoryWindow:       c.Policy.TaintHistoryWindow,
		RiskBudget:               c.Policy.RiskBudget,
		RiskBudgetBlockThreshold: c.Policy.RiskBudgetBlockThreshold,
		RiskBudgetAskThreshold:   c.Policy.RiskBudgetAskThreshold,
		DriftAskThreshold:        c.Policy.DriftAskThreshold,
		AllowedDocsBase:          c.Docs.Base,
	}
}
