package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields
// replaced by the redaction placeholder "***". Use this when logging or
// printing the active configuration so secrets are never accidentally
// exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Polymarket
	out.Polymarket = cfg.Polymarket
	redact(&out.Polymarket.ApiKey)
	redact(&out.Polymarket.ApiSecret)
	redact(&out.Polymarket.ApiPassphrase)
	redact(&out.Polymarket.CredsPassword)

	// Journal
	out.Journal = cfg.Journal
	redact(&out.Journal.DSN)
	redact(&out.Journal.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Copy slices so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Watcher.InitPositions != nil {
		out.Watcher.InitPositions = make([]InitPositionConfig, len(cfg.Watcher.InitPositions))
		copy(out.Watcher.InitPositions, cfg.Watcher.InitPositions)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
