package config

import "time"

// DefaultJobConfig returns the built-in defaults named throughout spec §5/§6.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		JobBudgetWallclock:    30 * time.Minute,
		JobBudgetAdapterCalls: 500,

		SliceDeadline:      40 * time.Second,
		DrainMargin:        5 * time.Second,
		DrainTimeout:       15 * time.Second,
		MaxConcurrency:     8,
		MaxSlices:          30,
		MaxReflectionLoops: 1,

		AdapterTimeout:  20 * time.Second,
		SourceCacheTTL:  24 * time.Hour,
		LeaseDuration:   60 * time.Second,
		MaxTaskAttempts: 3,

		RetryBaseDelay: 1 * time.Second,
		RetryFactor:    2,
		RetryCap:       30 * time.Second,
		RetryMaxTries:  3,

		RequiredFields: []string{"brand", "model"},
		ImageFields:    []string{"primary_image_url"},

		ReflectionConfidenceFloor: 0.6,
		ReflectionQueryTemplate:   "",

		SynthesisMaxDocs:        10,
		SynthesisMaxCharsPerDoc: 2000,

		RulesetVersion: "v1",
		ParserVersion:  "v1",

		RelevanceK: 5,

		TrustTiers:    map[string]string{},
		LogisticsHost: "",

		Prompts: map[string]string{},
	}
}
