package beacon

import (
	"fmt"
	"time"

	"github.com/bardlex/cryptodecoy/internal/telemetry"
	"github.com/bardlex/cryptodecoy/pkg/errors"
)

// StageSpec describes one stage of a simulated build. The sleep for the
// stage is drawn uniformly from [Min, Max]. A Work stage also simulates mining.
type StageSpec struct {
	Name telemetry.Stage
	Min  time.Duration
	Max  time.Duration
	Work bool
}

// Plan is the ordered stage list walked by every cycle
type Plan []StageSpec

// DefaultPlan is the five stage build pipeline with mining during BUILD
func DefaultPlan() Plan {
	return Plan{
		{Name: telemetry.StageProvisioning, Min: 10 * time.Second, Max: 30 * time.Second},
		{Name: telemetry.StageDownloadSource, Min: 10 * time.Second, Max: 30 * time.Second},
		{Name: telemetry.StageBuild, Min: 30 * time.Second, Max: 90 * time.Second, Work: true},
		{Name: telemetry.StageDeploy, Min: 10 * time.Second, Max: 30 * time.Second},
		{Name: telemetry.StageVerify, Min: 10 * time.Second, Max: 30 * time.Second},
	}
}

// Validate checks that the plan has stages with sane ranges and unique names
func (p Plan) Validate() error {
	if len(p) == 0 {
		return errors.New(errors.ErrorTypeConfig, "validate_plan", "plan has no stages")
	}

	seen := make(map[telemetry.Stage]bool, len(p))
	for i, st := range p {
		switch {
		case st.Name == "" || st.Name == telemetry.StageWaiting:
			return errors.New(errors.ErrorTypeConfig, "validate_plan",
				fmt.Sprintf("stage %d has an invalid name %q", i, st.Name))
		case seen[st.Name]:
			return errors.New(errors.ErrorTypeConfig, "validate_plan",
				fmt.Sprintf("stage %s appears more than once", st.Name))
		case st.Min < 0 || st.Max < st.Min:
			return errors.New(errors.ErrorTypeConfig, "validate_plan",
				fmt.Sprintf("stage %s has an invalid duration range [%s, %s]", st.Name, st.Min, st.Max))
		}
		seen[st.Name] = true
	}
	return nil
}

// Names returns the stage names in order
func (p Plan) Names() []telemetry.Stage {
	names := make([]telemetry.Stage, len(p))
	for i, st := range p {
		names[i] = st.Name
	}
	return names
}

// Options tunes the probabilities and timing of the loop
type Options struct {
	Plan Plan

	// Per tick draws during the work stage
	ShareProbability  float64
	AcceptProbability float64
	StatusProbability float64
	TickMin           time.Duration
	TickMax           time.Duration

	// Quiescent interval between cycles
	WaitMin time.Duration
	WaitMax time.Duration

	// Chance of the one-off credential leak report at startup
	CredentialLeakProbability float64

	// Scales the simulated hash rate; zero means runtime.NumCPU
	CPUCount int
}

// DefaultOptions returns the stock timings: 5-10s ticks, 30-60 minute waits
func DefaultOptions() Options {
	return Options{
		Plan:                      DefaultPlan(),
		ShareProbability:          0.3,
		AcceptProbability:         0.95,
		StatusProbability:         0.2,
		TickMin:                   5 * time.Second,
		TickMax:                   10 * time.Second,
		WaitMin:                   30 * time.Minute,
		WaitMax:                   60 * time.Minute,
		CredentialLeakProbability: 0.1,
	}
}

// Validate checks the options
func (o Options) Validate() error {
	if err := o.Plan.Validate(); err != nil {
		return err
	}

	for name, p := range map[string]float64{
		"share":           o.ShareProbability,
		"accept":          o.AcceptProbability,
		"status":          o.StatusProbability,
		"credential leak": o.CredentialLeakProbability,
	} {
		if p < 0 || p > 1 {
			return errors.New(errors.ErrorTypeConfig, "validate_options",
				fmt.Sprintf("%s probability %v outside [0, 1]", name, p))
		}
	}

	if o.TickMin <= 0 || o.TickMax < o.TickMin {
		return errors.New(errors.ErrorTypeConfig, "validate_options",
			fmt.Sprintf("invalid tick range [%s, %s]", o.TickMin, o.TickMax))
	}
	if o.WaitMin < 0 || o.WaitMax < o.WaitMin {
		return errors.New(errors.ErrorTypeConfig, "validate_options",
			fmt.Sprintf("invalid wait range [%s, %s]", o.WaitMin, o.WaitMax))
	}
	return nil
}
