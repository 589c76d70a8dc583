package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// overridesFile is the BRIDGE_CONFIG_FILE shape. Every field is optional;
// absent keys leave the environment-derived value untouched.
type overridesFile struct {
	HTTPHost *string `yaml:"http_host"`
	HTTPPort *string `yaml:"http_port"`

	MaxQueueSize *int `yaml:"max_queue_size"`
	JobTimeoutMS *int `yaml:"job_timeout_ms"`

	MaxWaitSec                 *int `yaml:"max_wait_sec"`
	PollIntervalMS             *int `yaml:"poll_interval_ms"`
	StableChecks               *int `yaml:"stable_checks"`
	ExtractNoIndicatorStableMS *int `yaml:"extract_no_indicator_stable_ms"`
	ScrapeCallTimeoutMS        *int `yaml:"scrape_call_timeout_ms"`

	MaxPromptChars  *int   `yaml:"max_prompt_chars"`
	MaxMessageChars *int   `yaml:"max_message_chars"`
	MaxBodyBytes    *int64 `yaml:"http_max_body_bytes"`

	RateLimitRPM   *int `yaml:"rate_limit_rpm"`
	RateLimitBurst *int `yaml:"rate_limit_burst"`

	FileContext *struct {
		Enabled       *bool    `yaml:"enabled"`
		AllowedRoots  []string `yaml:"allowed_roots"`
		MaxFiles      *int     `yaml:"max_files"`
		MaxFileChars  *int     `yaml:"max_file_chars"`
		MaxTotalChars *int     `yaml:"max_total_chars"`
	} `yaml:"file_context"`

	Session *struct {
		Mode         *string `yaml:"mode"`
		DefaultSlot  *string `yaml:"default_slot"`
		BindingsPath *string `yaml:"bindings_path"`
		StrictOpen   *bool   `yaml:"strict_open"`
	} `yaml:"session"`

	UIErrorPatterns *string `yaml:"ui_error_patterns_json"`
	LogLevel        *string `yaml:"log_level"`
}

// applyOverrides layers a YAML file on top of the env-derived config.
func applyOverrides(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var o overridesFile
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString(&cfg.HTTPHost, o.HTTPHost)
	setString(&cfg.HTTPPort, o.HTTPPort)
	setInt(&cfg.MaxQueueSize, o.MaxQueueSize)
	setDurationMS(&cfg.JobTimeout, o.JobTimeoutMS)
	setDurationSec(&cfg.MaxWait, o.MaxWaitSec)
	setDurationMS(&cfg.PollInterval, o.PollIntervalMS)
	setInt(&cfg.StableChecks, o.StableChecks)
	setDurationMS(&cfg.NoIndicatorStable, o.ExtractNoIndicatorStableMS)
	setDurationMS(&cfg.ScrapeCallTimeout, o.ScrapeCallTimeoutMS)
	setInt(&cfg.MaxPromptChars, o.MaxPromptChars)
	setInt(&cfg.MaxMessageChars, o.MaxMessageChars)
	if o.MaxBodyBytes != nil {
		cfg.MaxBodyBytes = *o.MaxBodyBytes
	}
	setInt(&cfg.RateLimit.RPM, o.RateLimitRPM)
	setInt(&cfg.RateLimit.Burst, o.RateLimitBurst)

	if fc := o.FileContext; fc != nil {
		setBool(&cfg.FileContext.Enabled, fc.Enabled)
		if len(fc.AllowedRoots) > 0 {
			cfg.FileContext.AllowedRoots = fc.AllowedRoots
		}
		setInt(&cfg.FileContext.MaxFiles, fc.MaxFiles)
		setInt(&cfg.FileContext.MaxFileChars, fc.MaxFileChars)
		setInt(&cfg.FileContext.MaxTotalChars, fc.MaxTotalChars)
	}
	if s := o.Session; s != nil {
		setString(&cfg.Session.Mode, s.Mode)
		setString(&cfg.Session.DefaultSlot, s.DefaultSlot)
		setString(&cfg.Session.BindingsPath, s.BindingsPath)
		setBool(&cfg.Session.StrictOpen, s.StrictOpen)
	}
	setString(&cfg.UI.ErrorPatternsJSON, o.UIErrorPatterns)
	setString(&cfg.LogLevel, o.LogLevel)
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDurationMS(dst *time.Duration, src *int) {
	if src != nil {
		*dst = time.Duration(*src) * time.Millisecond
	}
}

func setDurationSec(dst *time.Duration, src *int) {
	if src != nil {
		*dst = time.Duration(*src) * time.Second
	}
}
