package controlplane

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/reprise-io/reprise/policy"
)

// duration decodes yaml values written either as Go duration strings ("250ms")
// or as bare integers (nanoseconds).
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %s", value.Value)
	}
	*d = duration(n)
	return nil
}

type fileRetry struct {
	MaxAttempts       int       `yaml:"max_attempts"`
	BaseDelay         duration  `yaml:"base_delay"`
	MaxDelay          duration  `yaml:"max_delay"`
	BackoffMultiplier float64   `yaml:"backoff_multiplier"`
	Jitter            string    `yaml:"jitter"`
	AttemptTimeout    duration  `yaml:"attempt_timeout"`
	Classifier        string    `yaml:"classifier"`
	Budget            yaml.Node `yaml:"budget"`
}

type fileCircuit struct {
	Enabled   *bool    `yaml:"enabled"`
	Threshold int      `yaml:"threshold"`
	Cooldown  duration `yaml:"cooldown"`
}

type fileUpdate struct {
	MaxRetries     *int     `yaml:"max_retries"`
	RetryDelay     duration `yaml:"retry_delay"`
	RetryBackoff   float64  `yaml:"retry_backoff"`
	AutoRetry      *bool    `yaml:"auto_retry"`
	Timeout        duration `yaml:"timeout"`
	KeepHistory    *bool    `yaml:"keep_history"`
	MaxHistorySize int      `yaml:"max_history_size"`
}

type filePolicy struct {
	Key     string      `yaml:"key"`
	ID      string      `yaml:"id"`
	Retry   fileRetry   `yaml:"retry"`
	Circuit fileCircuit `yaml:"circuit"`
	Update  fileUpdate  `yaml:"update"`
}

type policyFile struct {
	Defaults filePolicy   `yaml:"defaults"`
	Policies []filePolicy `yaml:"policies"`
}

// FileSource is a Source backed by a yaml policy file, with optional
// environment overrides applied on top of the file's defaults.
type FileSource struct {
	mu       sync.RWMutex
	path     string
	envFile  string
	policies map[policy.PolicyKey]policy.EffectivePolicy
	defaults policy.EffectivePolicy
	hasDefs  bool
}

// FileSourceOption configures a FileSource.
type FileSourceOption func(*FileSource)

// WithEnvFile loads overrides from a dotenv file in addition to the process
// environment. Missing files are ignored.
func WithEnvFile(path string) FileSourceOption {
	return func(s *FileSource) {
		s.envFile = path
	}
}

// NewFileSource parses the yaml policy file at path.
func NewFileSource(path string, opts ...FileSourceOption) (*FileSource, error) {
	s := &FileSource{path: path}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the policy file, replacing the in-memory policy set.
func (s *FileSource) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", ErrPolicyFetchFailed, s.path, err)
	}

	env := s.envOverrides()

	defaults := policy.DefaultPolicyFor(policy.PolicyKey{})
	hasDefs := applyFilePolicy(&defaults, file.Defaults)
	applyEnvOverrides(&defaults, env)
	defaults.Meta.Source = policy.PolicySourceFile

	policies := make(map[policy.PolicyKey]policy.EffectivePolicy, len(file.Policies))
	for _, fp := range file.Policies {
		if fp.Key == "" {
			return fmt.Errorf("%w: policy entry missing key in %s", ErrPolicyFetchFailed, s.path)
		}
		key := policy.ParseKey(fp.Key)

		pol := defaults
		pol.Key = key
		applyFilePolicy(&pol, fp)
		pol.Meta.Source = policy.PolicySourceFile
		policies[key] = pol
	}

	s.mu.Lock()
	s.policies = policies
	s.defaults = defaults
	s.hasDefs = hasDefs || len(env) > 0
	s.mu.Unlock()
	return nil
}

// GetPolicy implements Source.
func (s *FileSource) GetPolicy(_ context.Context, key policy.PolicyKey) (policy.EffectivePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pol, ok := s.policies[key]; ok {
		return pol, nil
	}
	if s.hasDefs {
		pol := s.defaults
		pol.Key = key
		return pol, nil
	}
	return policy.EffectivePolicy{}, ErrPolicyNotFound
}

// envOverrides merges the optional dotenv file under the process environment.
// Process variables win over file entries.
func (s *FileSource) envOverrides() map[string]string {
	env := map[string]string{}
	if s.envFile != "" {
		if fileEnv, err := godotenv.Read(s.envFile); err == nil {
			for k, v := range fileEnv {
				env[k] = v
			}
		}
	}
	for _, name := range []string{
		"REPRISE_MAX_ATTEMPTS",
		"REPRISE_BASE_DELAY",
		"REPRISE_MAX_DELAY",
		"REPRISE_MAX_RETRIES",
		"REPRISE_RETRY_DELAY",
		"REPRISE_TIMEOUT",
		"REPRISE_AUTO_RETRY",
	} {
		if v, ok := os.LookupEnv(name); ok {
			env[name] = v
		}
	}
	return env
}

// applyFilePolicy copies the fields set in fp onto pol and reports whether
// anything was set.
func applyFilePolicy(pol *policy.EffectivePolicy, fp filePolicy) bool {
	changed := false
	set := func() { changed = true }

	if fp.ID != "" {
		pol.ID = fp.ID
		set()
	}

	if fp.Retry.MaxAttempts != 0 {
		pol.Retry.MaxAttempts = fp.Retry.MaxAttempts
		set()
	}
	if fp.Retry.BaseDelay != 0 {
		pol.Retry.BaseDelay = time.Duration(fp.Retry.BaseDelay)
		set()
	}
	if fp.Retry.MaxDelay != 0 {
		pol.Retry.MaxDelay = time.Duration(fp.Retry.MaxDelay)
		set()
	}
	if fp.Retry.BackoffMultiplier != 0 {
		pol.Retry.BackoffMultiplier = fp.Retry.BackoffMultiplier
		set()
	}
	if fp.Retry.Jitter != "" {
		pol.Retry.Jitter = policy.JitterKind(fp.Retry.Jitter)
		set()
	}
	if fp.Retry.AttemptTimeout != 0 {
		pol.Retry.AttemptTimeout = time.Duration(fp.Retry.AttemptTimeout)
		set()
	}
	if fp.Retry.Classifier != "" {
		pol.Retry.ClassifierName = fp.Retry.Classifier
		set()
	}
	if !fp.Retry.Budget.IsZero() {
		var ref policy.BudgetRef
		if err := fp.Retry.Budget.Decode(&ref); err == nil {
			pol.Retry.Budget = ref
			set()
		}
	}

	if fp.Circuit.Enabled != nil {
		pol.Circuit.Enabled = *fp.Circuit.Enabled
		set()
	}
	if fp.Circuit.Threshold != 0 {
		pol.Circuit.Threshold = fp.Circuit.Threshold
		set()
	}
	if fp.Circuit.Cooldown != 0 {
		pol.Circuit.Cooldown = time.Duration(fp.Circuit.Cooldown)
		set()
	}

	if fp.Update.MaxRetries != nil {
		pol.Update.MaxRetries = *fp.Update.MaxRetries
		set()
	}
	if fp.Update.RetryDelay != 0 {
		pol.Update.RetryDelay = time.Duration(fp.Update.RetryDelay)
		set()
	}
	if fp.Update.RetryBackoff != 0 {
		pol.Update.RetryBackoff = fp.Update.RetryBackoff
		set()
	}
	if fp.Update.AutoRetry != nil {
		pol.Update.AutoRetry = *fp.Update.AutoRetry
		set()
	}
	if fp.Update.Timeout != 0 {
		pol.Update.Timeout = time.Duration(fp.Update.Timeout)
		set()
	}
	if fp.Update.KeepHistory != nil {
		pol.Update.KeepHistory = *fp.Update.KeepHistory
		set()
	}
	if fp.Update.MaxHistorySize != 0 {
		pol.Update.MaxHistorySize = fp.Update.MaxHistorySize
		set()
	}

	return changed
}

func applyEnvOverrides(pol *policy.EffectivePolicy, env map[string]string) {
	if v, ok := env["REPRISE_MAX_ATTEMPTS"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			pol.Retry.MaxAttempts = n
		}
	}
	if v, ok := env["REPRISE_BASE_DELAY"]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			pol.Retry.BaseDelay = d
		}
	}
	if v, ok := env["REPRISE_MAX_DELAY"]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			pol.Retry.MaxDelay = d
		}
	}
	if v, ok := env["REPRISE_MAX_RETRIES"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			pol.Update.MaxRetries = n
		}
	}
	if v, ok := env["REPRISE_RETRY_DELAY"]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			pol.Update.RetryDelay = d
		}
	}
	if v, ok := env["REPRISE_TIMEOUT"]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			pol.Update.Timeout = d
		}
	}
	if v, ok := env["REPRISE_AUTO_RETRY"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			pol.Update.AutoRetry = b
		}
	}
}
