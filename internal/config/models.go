package config

// GmailConfig represents the configuration for the Gmail client
type GmailConfig struct {
	CredentialsPath   string
	TokenPath         string
	PageSize          int64
	FetchBatchSize    int
	TrashBatchSize    int
	FetchWorkers      int
	RequestsPerSecond float64
	Burst             int
	RetryMaxAttempts  int
}

// ScoringConfig represents the configuration for the scoring engine
type ScoringConfig struct {
	WeightListUnsubscribe float64
	WeightSenderPattern   float64
	WeightPrecedenceBulk  float64
	WeightHighVolume      float64
	WeightPromotions      float64
	AutomatedPatterns     []string
	HighVolumeThreshold   int
	ThresholdNewsletter   float64
	ThresholdLikely       float64
	ThresholdUncertain    float64
}

// ScanConfig represents the configuration for scans
type ScanConfig struct {
	Query          string
	MaxMessages    int
	SampleSubjects int
}

// CacheConfig represents the configuration for the scan result cache
type CacheConfig struct {
	Type       string
	Enabled    bool
	SQLitePath string
	MySQLDSN   string
}

// AuditConfig represents the configuration for the trash audit log
type AuditConfig struct {
	Path string
}

// CleanConfig represents the configuration for the cleanup flow
type CleanConfig struct {
	MinScore          float64
	ConfirmationToken string
	ProtectedDomains  []string
}

// GetGmail returns the Gmail client configuration
func (c *Config) GetGmail() GmailConfig {
	return GmailConfig{
		CredentialsPath:   c.GetString("gmail.credentials_path"),
		TokenPath:         c.GetString("gmail.token_path"),
		PageSize:          int64(c.GetInt("gmail.page_size")),
		FetchBatchSize:    c.GetInt("gmail.fetch_batch_size"),
		TrashBatchSize:    c.GetInt("gmail.trash_batch_size"),
		FetchWorkers:      c.GetInt("gmail.fetch_workers"),
		RequestsPerSecond: c.GetFloat64("gmail.requests_per_second"),
		Burst:             c.GetInt("gmail.burst"),
		RetryMaxAttempts:  c.GetInt("gmail.retry.max_attempts"),
	}
}

// GetScoring returns the scoring engine configuration
func (c *Config) GetScoring() ScoringConfig {
	return ScoringConfig{
		WeightListUnsubscribe: c.GetFloat64("scoring.weights.list_unsubscribe"),
		WeightSenderPattern:   c.GetFloat64("scoring.weights.sender_pattern"),
		WeightPrecedenceBulk:  c.GetFloat64("scoring.weights.precedence_bulk"),
		WeightHighVolume:      c.GetFloat64("scoring.weights.high_volume"),
		WeightPromotions:      c.GetFloat64("scoring.weights.promotions"),
		AutomatedPatterns:     c.GetStringSlice("scoring.automated_patterns"),
		HighVolumeThreshold:   c.GetInt("scoring.high_volume_threshold"),
		ThresholdNewsletter:   c.GetFloat64("scoring.thresholds.newsletter"),
		ThresholdLikely:       c.GetFloat64("scoring.thresholds.likely_newsletter"),
		ThresholdUncertain:    c.GetFloat64("scoring.thresholds.uncertain"),
	}
}

// GetScan returns the scan configuration
func (c *Config) GetScan() ScanConfig {
	return ScanConfig{
		Query:          c.GetString("scan.query"),
		MaxMessages:    c.GetInt("scan.max_messages"),
		SampleSubjects: c.GetInt("scan.sample_subjects"),
	}
}

// GetCache returns the cache configuration
func (c *Config) GetCache() CacheConfig {
	return CacheConfig{
		Type:       c.GetString("cache.type"),
		Enabled:    c.GetBool("cache.enabled"),
		SQLitePath: c.GetString("cache.sqlite_path"),
		MySQLDSN:   c.GetString("cache.mysql_dsn"),
	}
}

// GetAudit returns the audit log configuration
func (c *Config) GetAudit() AuditConfig {
	return AuditConfig{
		Path: c.GetString("audit.path"),
	}
}

// GetClean returns the cleanup configuration
func (c *Config) GetClean() CleanConfig {
	return CleanConfig{
		MinScore:          c.GetFloat64("clean.min_score"),
		ConfirmationToken: c.GetString("clean.confirmation_token"),
		ProtectedDomains:  c.GetStringSlice("clean.protected_domains"),
	}
}
