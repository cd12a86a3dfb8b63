package config

import (
	"fmt"
	"net/url"
)

var validModes = map[string]bool{
	ModeNone:    true,
	ModeManual:  true,
	ModeStart:   true,
	ModeDefault: true,
}

var validTargets = map[string]bool{
	TargetUser:   true,
	TargetSystem: true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors
// found. Values that would break startup are reset to safe defaults;
// the feed URL is intentionally not validated here because a malformed
// URL must surface as a Disabled state, not a startup failure.
func (c *Config) Validate() []error {
	var errs []error

	if c.UpdateURL != "" {
		u, err := url.Parse(c.UpdateURL)
		if err == nil && u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("update_url scheme must be http or https, got %q", u.Scheme))
		}
	}

	if !validModes[c.Mode] {
		errs = append(errs, fmt.Errorf("unknown update mode %q, using %q", c.Mode, ModeDefault))
		c.Mode = ModeDefault
	}

	if !validTargets[c.Target] {
		errs = append(errs, fmt.Errorf("unknown install target %q, using %q", c.Target, TargetSystem))
		c.Target = TargetSystem
	}

	if c.Quality == "" {
		errs = append(errs, fmt.Errorf("empty quality, using stable"))
		c.Quality = "stable"
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log_format %q, using text", c.LogFormat))
		c.LogFormat = "text"
	}

	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Errorf("unknown log_level %q, using info", c.LogLevel))
		c.LogLevel = "info"
	}

	return errs
}
