package config

import "time"

// JobConfig carries the resource envelope and tunables for a single job,
// built from the system defaults, the YAML file, and environment variables.
type JobConfig struct {
	DatabaseURL string `yaml:"database_url" validate:"required"`

	JobBudgetWallclock    time.Duration `yaml:"job_budget_wallclock" validate:"required,gt=0"`
	JobBudgetAdapterCalls int           `yaml:"job_budget_adapter_calls" validate:"required,gt=0"`

	SliceDeadline      time.Duration `yaml:"slice_deadline" validate:"required,gt=0"`
	DrainMargin        time.Duration `yaml:"drain_margin" validate:"required,gt=0"`
	DrainTimeout       time.Duration `yaml:"drain_timeout" validate:"required,gt=0"`
	MaxConcurrency     int           `yaml:"max_concurrency" validate:"required,min=1"`
	MaxSlices          int           `yaml:"max_slices" validate:"required,min=1"`
	MaxReflectionLoops int           `yaml:"max_reflection_loops" validate:"min=0"`

	AdapterTimeout  time.Duration `yaml:"adapter_timeout" validate:"required,gt=0"`
	SourceCacheTTL  time.Duration `yaml:"source_cache_ttl" validate:"required,gt=0"`
	LeaseDuration   time.Duration `yaml:"lease_duration" validate:"required,gt=0"`
	MaxTaskAttempts int           `yaml:"max_task_attempts" validate:"required,min=1"`

	RetryBaseDelay time.Duration `yaml:"retry_base_delay" validate:"required,gt=0"`
	RetryFactor    float64       `yaml:"retry_factor" validate:"required,gt=1"`
	RetryCap       time.Duration `yaml:"retry_cap" validate:"required,gt=0"`
	RetryMaxTries  int           `yaml:"retry_max_tries" validate:"required,min=1"`

	RequiredFields []string `yaml:"required_fields" validate:"required,min=1"`
	ImageFields    []string `yaml:"image_fields"`

	ReflectionConfidenceFloor float64 `yaml:"reflection_confidence_floor" validate:"required,gt=0,lte=1"`
	ReflectionQueryTemplate   string  `yaml:"reflection_query_template"`

	SynthesisMaxDocs        int `yaml:"synthesis_max_docs" validate:"required,min=1"`
	SynthesisMaxCharsPerDoc int `yaml:"synthesis_max_chars_per_doc" validate:"required,min=1"`

	RulesetVersion string `yaml:"ruleset_version" validate:"required"`
	ParserVersion  string `yaml:"parser_version" validate:"required"`

	RelevanceK int `yaml:"relevance_k" validate:"required,min=1"`

	// TrustTiers maps a source domain to its trust tier letter (A-E); domains
	// absent here default to Tier E in the Trust Engine. LogisticsHost names
	// the one domain authoritative for packaging.* fields.
	TrustTiers    map[string]string `yaml:"trust_tiers"`
	LogisticsHost string            `yaml:"logistics_host"`

	// Prompts is opaque, business-specific prompt text keyed by agent/component
	// name. veritas never parses its contents.
	Prompts map[string]string `yaml:"prompts,omitempty"`
}

// SystemConfig is the YAML-backed system-wide settings file (veritas.yaml).
// Mirrors the teacher's split between a versioned YAML file and resolved,
// in-memory configuration.
type SystemConfig struct {
	Job *JobConfig `yaml:"job"`
}

// LocalOverride is the operator-local TOML file (veritas.local.toml) applied
// on top of the resolved JobConfig for ad-hoc local tuning. Fields are
// pointers so only explicitly set values override.
type LocalOverride struct {
	MaxConcurrency *int    `toml:"max_concurrency,omitempty"`
	MaxSlices      *int    `toml:"max_slices,omitempty"`
	DatabaseURL    *string `toml:"database_url,omitempty"`
}
