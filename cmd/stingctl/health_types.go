package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// StartupPlanVersion is the current version of the startup plan schema.
// Increment when descriptor semantics change to enable backwards compatibility.
const StartupPlanVersion = "1.0.0"

// ProbeKind specifies the method used to probe service health.
//
// # Description
//
// Defines the protocol or mechanism used to determine if a service
// is healthy. Each kind has different requirements and behaviors.
//
// # Examples
//
//	kind := ProbeHTTP
//	if kind == ProbeHTTP {
//	    // Perform HTTP GET request
//	}
//
// # Limitations
//
//   - ProbeTCP only verifies the port is open, not service health
//   - ProbeContainerRunning may report healthy for a crash-looping
//     container caught between restarts
//
// # Assumptions
//
//   - HTTP probes expect the service to respond within the attempt timeout
//   - Container probes assume docker is the container runtime
type ProbeKind string

const (
	// ProbeHTTP probes health via HTTP GET request.
	// Expects 2xx status code by default.
	ProbeHTTP ProbeKind = "http"

	// ProbeTCP probes health via TCP connection.
	// Only verifies the port is accepting connections.
	ProbeTCP ProbeKind = "tcp"

	// ProbeExec probes health by running a command inside the container.
	// Healthy when the command exits zero.
	ProbeExec ProbeKind = "exec"

	// ProbeContainerRunning probes health via container runtime state.
	// Queries docker for container running state.
	ProbeContainerRunning ProbeKind = "container-running"
)

// Criticality classifies how a service failure affects stack startup.
//
// # Description
//
// Essential failures abort the startup sequence. Important failures are
// logged as warnings and startup continues. Optional failures are logged
// at info level only.
type Criticality string

const (
	// CriticalityEssential aborts startup when the service fails.
	CriticalityEssential Criticality = "essential"

	// CriticalityImportant logs a warning and continues.
	CriticalityImportant Criticality = "important"

	// CriticalityOptional logs at info level and continues.
	CriticalityOptional Criticality = "optional"
)

// HealthState represents the observed state of a service.
//
// # Description
//
// Represents the outcome of probing. States are mutually exclusive and
// represent a point-in-time snapshot.
//
// # Limitations
//
//   - States don't capture degraded performance
//   - State is point-in-time and may change immediately after the probe
type HealthState string

const (
	// HealthUnknown means the service has not been probed yet.
	HealthUnknown HealthState = "unknown"

	// HealthStarting means probing is in progress and the service has not
	// yet responded successfully.
	HealthStarting HealthState = "starting"

	// HealthHealthy means the last probe succeeded.
	HealthHealthy HealthState = "healthy"

	// HealthUnhealthy means the service responded but failed the probe.
	HealthUnhealthy HealthState = "unhealthy"

	// HealthTimedOut means the attempt budget was exhausted.
	HealthTimedOut HealthState = "timed_out"

	// HealthNotFound means the container does not exist.
	HealthNotFound HealthState = "not_found"
)

// ProbeSpec describes how to probe one service.
//
// # Description
//
// A tagged variant: Kind selects the mechanism, and exactly one of
// Target or Command is meaningful for it. HTTP probes use Target as a
// URL, TCP probes as host:port, exec probes run Command inside the
// container, and container-running probes need neither.
//
// # Examples
//
//	spec := ProbeSpec{Kind: ProbeHTTP, Target: "http://localhost:4433/health/ready"}
//	spec := ProbeSpec{Kind: ProbeExec, Command: []string{"pg_isready", "-U", "sting"}}
//
// # Limitations
//
//   - Only one probe mechanism per service
//   - Exec probes require the container to be running first
type ProbeSpec struct {
	// Kind selects the probe mechanism.
	Kind ProbeKind `yaml:"kind" validate:"required,oneof=http tcp exec container-running"`

	// Target is the URL (http) or host:port (tcp).
	Target string `yaml:"target,omitempty"`

	// Command is the command run inside the container (exec).
	Command []string `yaml:"command,omitempty"`

	// ExpectedStatus is the expected HTTP status code (default: any 2xx).
	ExpectedStatus int `yaml:"expected_status,omitempty"`
}

// ServiceDescriptor declares one service in the startup plan.
//
// # Description
//
// Defines everything the sequencer needs to start and gate one service:
// its compose identity, dependency tier, criticality, probe, and retry
// budget.
//
// # Examples
//
//	desc := ServiceDescriptor{
//	    Name:          "postgres",
//	    ContainerName: "sting-postgres",
//	    Tier:          1,
//	    Criticality:   CriticalityEssential,
//	    Probe:         ProbeSpec{Kind: ProbeExec, Command: []string{"pg_isready"}},
//	    MaxAttempts:   30,
//	    Interval:      2 * time.Second,
//	}
//
// # Assumptions
//
//   - Container names are unique on the host
//   - Name matches the compose service name
type ServiceDescriptor struct {
	// Name is the compose service name.
	Name string `yaml:"name" validate:"required"`

	// ContainerName is the container name. Empty means <prefix><name>.
	ContainerName string `yaml:"container_name,omitempty"`

	// Tier is the dependency tier. Lower tiers start first.
	Tier int `yaml:"tier" validate:"gte=0,lte=9"`

	// Criticality controls failure handling during startup.
	Criticality Criticality `yaml:"criticality" validate:"required,oneof=essential important optional"`

	// Probe describes how readiness is determined.
	Probe ProbeSpec `yaml:"probe"`

	// MaxAttempts caps probe retries before the service is TimedOut.
	MaxAttempts int `yaml:"max_attempts" validate:"gte=1,lte=1000"`

	// FreshInstallAttempts replaces MaxAttempts when the fresh-install
	// signal is set. Zero means no extension. Services whose first boot
	// runs schema migrations declare a larger budget here.
	FreshInstallAttempts int `yaml:"fresh_install_attempts,omitempty"`

	// Interval is the base delay between probe attempts.
	Interval time.Duration `yaml:"interval"`

	// AttemptTimeout bounds a single probe attempt. Zero uses the default.
	AttemptTimeout time.Duration `yaml:"attempt_timeout,omitempty"`

	// AccessURL is the user-facing URL printed in the startup summary.
	// Empty for services without one (databases, workers).
	AccessURL string `yaml:"access_url,omitempty"`
}

// EffectiveAttempts returns the retry budget honoring the fresh-install signal.
func (d ServiceDescriptor) EffectiveAttempts(freshInstall bool) int {
	if freshInstall && d.FreshInstallAttempts > d.MaxAttempts {
		return d.FreshInstallAttempts
	}
	return d.MaxAttempts
}

// UnmarshalYAML decodes a descriptor, accepting Go duration strings
// ("2s", "500ms") for the interval fields. Plain yaml.v3 would require
// nanosecond integers in operator override files.
func (d *ServiceDescriptor) UnmarshalYAML(value *yaml.Node) error {
	type rawDescriptor struct {
		Name                 string      `yaml:"name"`
		ContainerName        string      `yaml:"container_name"`
		Tier                 int         `yaml:"tier"`
		Criticality          Criticality `yaml:"criticality"`
		Probe                ProbeSpec   `yaml:"probe"`
		MaxAttempts          int         `yaml:"max_attempts"`
		FreshInstallAttempts int         `yaml:"fresh_install_attempts"`
		Interval             string      `yaml:"interval"`
		AttemptTimeout       string      `yaml:"attempt_timeout"`
		AccessURL            string      `yaml:"access_url"`
	}
	var raw rawDescriptor
	if err := value.Decode(&raw); err != nil {
		return err
	}

	d.Name = raw.Name
	d.ContainerName = raw.ContainerName
	d.Tier = raw.Tier
	d.Criticality = raw.Criticality
	d.Probe = raw.Probe
	d.MaxAttempts = raw.MaxAttempts
	d.FreshInstallAttempts = raw.FreshInstallAttempts
	d.AccessURL = raw.AccessURL

	if raw.Interval != "" {
		parsed, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return fmt.Errorf("invalid interval %q for service %s: %w", raw.Interval, raw.Name, err)
		}
		d.Interval = parsed
	}
	if raw.AttemptTimeout != "" {
		parsed, err := time.ParseDuration(raw.AttemptTimeout)
		if err != nil {
			return fmt.Errorf("invalid attempt_timeout %q for service %s: %w", raw.AttemptTimeout, raw.Name, err)
		}
		d.AttemptTimeout = parsed
	}
	return nil
}

// ProbeResult is the outcome of probing one service.
//
// # Description
//
// Contains the final state, attempt count, and diagnostic context.
// LogTail is populated by the caller on failure for operator visibility.
type ProbeResult struct {
	// ID is a unique identifier for this result.
	ID string

	// Service is the service name.
	Service string

	// State is the final observed state.
	State HealthState

	// Attempts is how many probe attempts were made.
	Attempts int

	// Message provides additional context (error message, HTTP status).
	Message string

	// Duration is the total time spent probing.
	Duration time.Duration

	// LastChecked is when the final attempt completed.
	LastChecked time.Time

	// LogTail holds the last log lines of a failed service.
	LogTail string
}

// TierResult is the outcome of waiting for a whole tier.
type TierResult struct {
	// Tier is the tier index.
	Tier int

	// Results holds the per-service outcomes.
	Results []*ProbeResult

	// FailedEssential lists essential services that did not become healthy.
	FailedEssential []string

	// Degraded lists important/optional services that did not become healthy.
	Degraded []string

	// Duration is how long the tier took to converge or fail.
	Duration time.Duration
}

// Converged reports whether every essential service became healthy.
func (r *TierResult) Converged() bool {
	return len(r.FailedEssential) == 0
}

// WaitOptions configures WaitForService and WaitForTier behavior.
//
// # Description
//
// Controls install-mode budgets and parallelism for waiting on
// services. The pause between attempts is always the descriptor's
// Interval, so the worst-case wait for a service stays predictable
// from its plan entry alone.
//
// # Examples
//
//	opts := DefaultWaitOptions()
//	opts.FreshInstall = true
//	result, err := checker.WaitForTier(ctx, tier, opts)
type WaitOptions struct {
	// FreshInstall applies extended attempt budgets where declared.
	FreshInstall bool

	// Parallelism bounds concurrent probing within a tier (default: 4).
	Parallelism int
}

// DefaultWaitOptions returns the standard wait settings.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		Parallelism: 4,
	}
}

// StartupPlan is the ordered tier list driving the sequencer.
//
// # Description
//
// Tiers are provisioned in index order; every service in a tier must be
// gated before the next tier starts. The plan is data: overridable from
// a services.yaml file without code changes.
type StartupPlan struct {
	// Version is the plan schema version.
	Version string `yaml:"version"`

	// Tiers holds services grouped by dependency tier, in start order.
	Tiers [][]ServiceDescriptor `yaml:"tiers" validate:"required,min=1,dive,min=1,dive"`
}

// ServiceByName finds a descriptor in the plan.
func (p *StartupPlan) ServiceByName(name string) (ServiceDescriptor, bool) {
	for _, tier := range p.Tiers {
		for _, svc := range tier {
			if svc.Name == name {
				return svc, true
			}
		}
	}
	return ServiceDescriptor{}, false
}

// AllServices returns every descriptor in tier order.
func (p *StartupPlan) AllServices() []ServiceDescriptor {
	var all []ServiceDescriptor
	for _, tier := range p.Tiers {
		all = append(all, tier...)
	}
	return all
}

// LoadStartupPlan reads a plan override file, falling back to the default.
//
// # Description
//
// When path is empty or the file does not exist, the built-in topology
// is returned. A malformed or invalid file is an error rather than a
// silent fallback so operators notice broken overrides.
func LoadStartupPlan(path string) (*StartupPlan, error) {
	if path == "" {
		return DefaultStartupPlan(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultStartupPlan(), nil
		}
		return nil, fmt.Errorf("failed to read startup plan %s: %w", path, err)
	}
	var plan StartupPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse startup plan %s: %w", path, err)
	}
	if err := validator.New().Struct(&plan); err != nil {
		return nil, fmt.Errorf("invalid startup plan %s: %w", path, err)
	}
	if plan.Version == "" {
		plan.Version = StartupPlanVersion
	}
	return &plan, nil
}

// DefaultStartupPlan returns the built-in STING topology.
//
// # Description
//
// Six dependency tiers. Tier 0 is the secrets store everything reads
// credentials from; tier 1 the databases; tier 2 identity and object
// storage; tier 3 extraction, models, and messaging; tier 4 the
// application services; tier 5 the edge.
//
// # Limitations
//
//   - Hardcoded ports must match the shipped compose files
//   - Overridable per host via services.yaml
func DefaultStartupPlan() *StartupPlan {
	return &StartupPlan{
		Version: StartupPlanVersion,
		Tiers: [][]ServiceDescriptor{
			{
				{
					Name:        "vault",
					Tier:        0,
					Criticality: CriticalityEssential,
					Probe:       ProbeSpec{Kind: ProbeHTTP, Target: "http://localhost:8200/v1/sys/health"},
					MaxAttempts: 10,
					Interval:    1 * time.Second,
				},
				{
					Name:        "network-init",
					Tier:        0,
					Criticality: CriticalityOptional,
					Probe:       ProbeSpec{Kind: ProbeContainerRunning},
					MaxAttempts: 5,
					Interval:    1 * time.Second,
				},
			},
			{
				{
					Name:        "postgres",
					Tier:        1,
					Criticality: CriticalityEssential,
					Probe:       ProbeSpec{Kind: ProbeExec, Command: []string{"pg_isready", "-U", "sting"}},
					MaxAttempts: 30,
					Interval:    2 * time.Second,
				},
				{
					Name:        "redis",
					Tier:        1,
					Criticality: CriticalityImportant,
					Probe:       ProbeSpec{Kind: ProbeTCP, Target: "localhost:6379"},
					MaxAttempts: 15,
					Interval:    2 * time.Second,
				},
			},
			{
				{
					Name:                 "kratos-migrate",
					Tier:                 2,
					Criticality:          CriticalityEssential,
					Probe:                ProbeSpec{Kind: ProbeContainerRunning},
					MaxAttempts:          30,
					FreshInstallAttempts: 120,
					Interval:             2 * time.Second,
				},
				{
					Name:                 "kratos",
					Tier:                 2,
					Criticality:          CriticalityEssential,
					Probe:                ProbeSpec{Kind: ProbeHTTP, Target: "http://localhost:4433/health/ready"},
					MaxAttempts:          30,
					FreshInstallAttempts: 90,
					Interval:             2 * time.Second,
				},
				{
					Name:        "chromadb",
					Tier:        2,
					Criticality: CriticalityEssential,
					Probe:       ProbeSpec{Kind: ProbeHTTP, Target: "http://localhost:8000/api/v1/heartbeat"},
					MaxAttempts: 30,
					Interval:    2 * time.Second,
				},
				{
					Name:        "minio",
					Tier:        2,
					Criticality: CriticalityImportant,
					Probe:       ProbeSpec{Kind: ProbeHTTP, Target: "http://localhost:9000/minio/health/live"},
					MaxAttempts: 20,
					Interval:    2 * time.Second,
				},
			},
			{
				{
					Name:        "tika",
					Tier:        3,
					Criticality: CriticalityImportant,
					Probe:       ProbeSpec{Kind: ProbeHTTP, Target: "http://localhost:9998/tika"},
					MaxAttempts: 20,
					Interval:    3 * time.Second,
				},
				{
					Name:        "ollama",
					Tier:        3,
					Criticality: CriticalityOptional,
					Probe:       ProbeSpec{Kind: ProbeHTTP, Target: "http://localhost:11434/"},
					MaxAttempts: 10,
					Interval:    3 * time.Second,
				},
				{
					Name:        "knowledge",
					Tier:        3,
					Criticality: CriticalityImportant,
					Probe:       ProbeSpec{Kind: ProbeHTTP, Target: "http://localhost:8090/healthz"},
					MaxAttempts: 20,
					Interval:    3 * time.Second,
				},
				{
					Name:        "messaging",
					Tier:        3,
					Criticality: CriticalityImportant,
					Probe:       ProbeSpec{Kind: ProbeHTTP, Target: "http://localhost:8091/health"},
					MaxAttempts: 20,
					Interval:    3 * time.Second,
				},
				{
					Name:        "mailpit",
					Tier:        3,
					Criticality: CriticalityOptional,
					Probe:       ProbeSpec{Kind: ProbeTCP, Target: "localhost:8025"},
					MaxAttempts: 10,
					Interval:    2 * time.Second,
				},
			},
			{
				{
					Name:        "app",
					Tier:        4,
					Criticality: CriticalityEssential,
					Probe:       ProbeSpec{Kind: ProbeHTTP, Target: "http://localhost:5000/api/health"},
					MaxAttempts: 40,
					Interval:    3 * time.Second,
					AccessURL:   "http://localhost:5000",
				},
				{
					Name:        "worker",
					Tier:        4,
					Criticality: CriticalityImportant,
					Probe:       ProbeSpec{Kind: ProbeContainerRunning},
					MaxAttempts: 15,
					Interval:    2 * time.Second,
				},
				{
					Name:        "scheduler",
					Tier:        4,
					Criticality: CriticalityOptional,
					Probe:       ProbeSpec{Kind: ProbeContainerRunning},
					MaxAttempts: 10,
					Interval:    2 * time.Second,
				},
			},
			{
				{
					Name:        "frontend",
					Tier:        5,
					Criticality: CriticalityEssential,
					Probe:       ProbeSpec{Kind: ProbeHTTP, Target: "http://localhost:3000/"},
					MaxAttempts: 30,
					Interval:    2 * time.Second,
				},
				{
					Name:        "proxy",
					Tier:        5,
					Criticality: CriticalityEssential,
					Probe:       ProbeSpec{Kind: ProbeTCP, Target: "localhost:443"},
					MaxAttempts: 20,
					Interval:    2 * time.Second,
					AccessURL:   "https://localhost:443",
				},
				{
					Name:        "docs",
					Tier:        5,
					Criticality: CriticalityOptional,
					Probe:       ProbeSpec{Kind: ProbeContainerRunning},
					MaxAttempts: 5,
					Interval:    2 * time.Second,
				},
				{
					Name:        "grafana",
					Tier:        5,
					Criticality: CriticalityOptional,
					Probe:       ProbeSpec{Kind: ProbeHTTP, Target: "http://localhost:3001/api/health"},
					MaxAttempts: 10,
					Interval:    2 * time.Second,
					AccessURL:   "http://localhost:3001",
				},
				{
					Name:        "prometheus",
					Tier:        5,
					Criticality: CriticalityOptional,
					Probe:       ProbeSpec{Kind: ProbeHTTP, Target: "http://localhost:9090/-/ready"},
					MaxAttempts: 10,
					Interval:    2 * time.Second,
				},
			},
		},
	}
}

// GenerateID creates a unique identifier for lifecycle entities.
//
// # Description
//
// Generates a cryptographically random hex string used to correlate
// probe results and transition log entries across log lines.
//
// # Outputs
//
//   - string: 16-character hex string (8 random bytes)
//
// # Limitations
//
//   - Not a UUID; shorter for readability
func GenerateID() string {
	b := make([]byte, 8)
	_, err := rand.Read(b)
	if err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000")))[:16]
	}
	return hex.EncodeToString(b)
}
