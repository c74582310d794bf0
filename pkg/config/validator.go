package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates a JobConfig comprehensively with clear error messages:
// first the struct-tag rules, then the cross-field rules struct tags cannot
// express.
type Validator struct {
	cfg *JobConfig
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *JobConfig) *Validator {
	return &Validator{cfg: cfg}
}

var structValidator = validator.New()

// ValidateAll runs struct-tag validation followed by cross-field rules.
func (v *Validator) ValidateAll() error {
	if err := structValidator.Struct(v.cfg); err != nil {
		return fmt.Errorf("struct validation failed: %w", err)
	}

	if err := v.validateCrossField(); err != nil {
		return err
	}

	return nil
}

func (v *Validator) validateCrossField() error {
	c := v.cfg

	if c.LeaseDuration <= c.AdapterTimeout {
		return NewValidationError("lease_duration",
			fmt.Errorf("must exceed adapter_timeout (%v), got %v", c.AdapterTimeout, c.LeaseDuration))
	}

	if c.DrainMargin >= c.SliceDeadline {
		return NewValidationError("drain_margin",
			fmt.Errorf("must be less than slice_deadline (%v), got %v", c.SliceDeadline, c.DrainMargin))
	}

	if c.RetryCap < c.RetryBaseDelay {
		return NewValidationError("retry_cap",
			fmt.Errorf("must be at least retry_base_delay (%v), got %v", c.RetryBaseDelay, c.RetryCap))
	}

	if c.JobBudgetWallclock <= c.SliceDeadline {
		return NewValidationError("job_budget_wallclock",
			fmt.Errorf("must exceed slice_deadline (%v) to allow at least one full slice, got %v", c.SliceDeadline, c.JobBudgetWallclock))
	}

	return nil
}
