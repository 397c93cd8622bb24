package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pulsecheck/sift/pkg/batch"
	"github.com/pulsecheck/sift/pkg/llm"
)

// ClassifierConfig defines one AI classifier: its provider backend, prompt,
// sampling temperature, expected output cost per comment, and the token/rate
// limits batches are sized against.
type ClassifierConfig struct {
	llm.Config

	Prompt                 string       `toml:"prompt"`
	PromptFile             string       `toml:"prompt_file"`
	Temperature            float64      `toml:"temperature"`
	OutputTokensPerComment int          `toml:"output_tokens_per_comment"`
	Limits                 batch.Limits `toml:"limits"`
}

// Configured reports whether the classifier has a provider and model set.
func (c *ClassifierConfig) Configured() bool {
	return c.Provider != "" && c.Model != ""
}

func (c *ClassifierConfig) finalize(label string) error {
	if c.PromptFile != "" && c.Prompt == "" {
		data, err := os.ReadFile(c.PromptFile)
		if err != nil {
			return fmt.Errorf("%s: read prompt_file: %w", label, err)
		}
		c.Prompt = string(data)
	}
	if c.OutputTokensPerComment == 0 {
		c.OutputTokensPerComment = 30
	}
	return nil
}

func (c *ClassifierConfig) merge(overlay *ClassifierConfig) {
	if overlay.Provider != "" {
		c.Provider = overlay.Provider
	}
	if overlay.Model != "" {
		c.Model = overlay.Model
	}
	if overlay.BaseURL != "" {
		c.BaseURL = overlay.BaseURL
	}
	if overlay.APIKey != "" {
		c.APIKey = overlay.APIKey
	}
	if overlay.APIVersion != "" {
		c.APIVersion = overlay.APIVersion
	}
	if overlay.Region != "" {
		c.Region = overlay.Region
	}
	if overlay.AccessKeyID != "" {
		c.AccessKeyID = overlay.AccessKeyID
	}
	if overlay.SecretAccessKey != "" {
		c.SecretAccessKey = overlay.SecretAccessKey
	}
	if overlay.SessionToken != "" {
		c.SessionToken = overlay.SessionToken
	}
	if overlay.Prompt != "" {
		c.Prompt = overlay.Prompt
	}
	if overlay.PromptFile != "" {
		c.PromptFile = overlay.PromptFile
	}
	if overlay.Temperature != 0 {
		c.Temperature = overlay.Temperature
	}
	if overlay.OutputTokensPerComment != 0 {
		c.OutputTokensPerComment = overlay.OutputTokensPerComment
	}
	if overlay.Limits.InputTokenLimit != 0 {
		c.Limits.InputTokenLimit = overlay.Limits.InputTokenLimit
	}
	if overlay.Limits.OutputTokenLimit != 0 {
		c.Limits.OutputTokenLimit = overlay.Limits.OutputTokenLimit
	}
	if overlay.Limits.RPM != 0 {
		c.Limits.RPM = overlay.Limits.RPM
	}
	if overlay.Limits.TPM != 0 {
		c.Limits.TPM = overlay.Limits.TPM
	}
}

func (c *ClassifierConfig) loadEnv(prefix string) {
	setString := func(suffix string, dst *string) {
		if v := os.Getenv(prefix + suffix); v != "" {
			*dst = v
		}
	}

	setString("_PROVIDER", &c.Provider)
	setString("_MODEL", &c.Model)
	setString("_BASE_URL", &c.BaseURL)
	setString("_API_KEY", &c.APIKey)
	setString("_REGION", &c.Region)
	setString("_ACCESS_KEY_ID", &c.AccessKeyID)
	setString("_SECRET_ACCESS_KEY", &c.SecretAccessKey)
	setString("_SESSION_TOKEN", &c.SessionToken)
}

// ScanConfig holds the scan pipeline settings: the two mandatory classifiers,
// the optional adjudicator, safety margins, and the per-invocation execution
// budget.
type ScanConfig struct {
	ClassifierA ClassifierConfig `toml:"classifier_a"`
	ClassifierB ClassifierConfig `toml:"classifier_b"`
	Adjudicator ClassifierConfig `toml:"adjudicator"`

	SafetyMarginPercent int `toml:"safety_margin_percent"`

	// MaxBatchesPerRequest bounds how many batches one HTTP invocation
	// processes before returning a checkpoint. The default of 1 matches
	// deployment behind a serverless execution ceiling; a long-running
	// process may raise it. The checkpoint protocol holds either way.
	MaxBatchesPerRequest int    `toml:"max_batches_per_request"`
	MaxRunTime           string `toml:"max_run_time"`
	CallTimeout          string `toml:"call_timeout"`

	SmallDatasetLimit  int `toml:"small_dataset_limit"`
	TailRetryLimit     int `toml:"tail_retry_limit"`
	TailRetryBatchSize int `toml:"tail_retry_batch_size"`

	AdjudicationBatchSize int    `toml:"adjudication_batch_size"`
	AdjudicationDelay     string `toml:"adjudication_delay"`
}

// MaxRunTimeDuration returns MaxRunTime as a time.Duration.
func (c *ScanConfig) MaxRunTimeDuration() time.Duration {
	d, _ := time.ParseDuration(c.MaxRunTime)
	return d
}

// CallTimeoutDuration returns CallTimeout as a time.Duration.
func (c *ScanConfig) CallTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.CallTimeout)
	return d
}

// AdjudicationDelayDuration returns AdjudicationDelay as a time.Duration.
func (c *ScanConfig) AdjudicationDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.AdjudicationDelay)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
// Both classifiers are mandatory; the adjudicator is optional.
func (c *ScanConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.ClassifierA.finalize("classifier_a"); err != nil {
		return err
	}
	if err := c.ClassifierB.finalize("classifier_b"); err != nil {
		return err
	}
	if c.Adjudicator.Configured() {
		if err := c.Adjudicator.finalize("adjudicator"); err != nil {
			return err
		}
	}

	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *ScanConfig) Merge(overlay *ScanConfig) {
	c.ClassifierA.merge(&overlay.ClassifierA)
	c.ClassifierB.merge(&overlay.ClassifierB)
	c.Adjudicator.merge(&overlay.Adjudicator)

	if overlay.SafetyMarginPercent != 0 {
		c.SafetyMarginPercent = overlay.SafetyMarginPercent
	}
	if overlay.MaxBatchesPerRequest != 0 {
		c.MaxBatchesPerRequest = overlay.MaxBatchesPerRequest
	}
	if overlay.MaxRunTime != "" {
		c.MaxRunTime = overlay.MaxRunTime
	}
	if overlay.CallTimeout != "" {
		c.CallTimeout = overlay.CallTimeout
	}
	if overlay.SmallDatasetLimit != 0 {
		c.SmallDatasetLimit = overlay.SmallDatasetLimit
	}
	if overlay.TailRetryLimit != 0 {
		c.TailRetryLimit = overlay.TailRetryLimit
	}
	if overlay.TailRetryBatchSize != 0 {
		c.TailRetryBatchSize = overlay.TailRetryBatchSize
	}
	if overlay.AdjudicationBatchSize != 0 {
		c.AdjudicationBatchSize = overlay.AdjudicationBatchSize
	}
	if overlay.AdjudicationDelay != "" {
		c.AdjudicationDelay = overlay.AdjudicationDelay
	}
}

func (c *ScanConfig) loadDefaults() {
	if c.SafetyMarginPercent == 0 {
		c.SafetyMarginPercent = 15
	}
	if c.MaxBatchesPerRequest == 0 {
		c.MaxBatchesPerRequest = 1
	}
	if c.MaxRunTime == "" {
		c.MaxRunTime = "25s"
	}
	if c.CallTimeout == "" {
		c.CallTimeout = "20s"
	}
	if c.SmallDatasetLimit == 0 {
		c.SmallDatasetLimit = 50
	}
	if c.TailRetryLimit == 0 {
		c.TailRetryLimit = 100
	}
	if c.TailRetryBatchSize == 0 {
		c.TailRetryBatchSize = 10
	}
	if c.AdjudicationBatchSize == 0 {
		c.AdjudicationBatchSize = 50
	}
	if c.AdjudicationDelay == "" {
		c.AdjudicationDelay = "1s"
	}
}

func (c *ScanConfig) loadEnv() {
	c.ClassifierA.loadEnv("SIFT_SCAN_A")
	c.ClassifierB.loadEnv("SIFT_SCAN_B")
	c.Adjudicator.loadEnv("SIFT_ADJUDICATOR")

	if v := os.Getenv("SIFT_SCAN_SAFETY_MARGIN_PERCENT"); v != "" {
		if pct, err := strconv.Atoi(v); err == nil {
			c.SafetyMarginPercent = pct
		}
	}
	if v := os.Getenv("SIFT_SCAN_MAX_BATCHES_PER_REQUEST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxBatchesPerRequest = n
		}
	}
	if v := os.Getenv("SIFT_SCAN_MAX_RUN_TIME"); v != "" {
		c.MaxRunTime = v
	}
	if v := os.Getenv("SIFT_SCAN_CALL_TIMEOUT"); v != "" {
		c.CallTimeout = v
	}
}

func (c *ScanConfig) validate() error {
	if !c.ClassifierA.Configured() {
		return fmt.Errorf("classifier_a requires provider and model")
	}
	if !c.ClassifierB.Configured() {
		return fmt.Errorf("classifier_b requires provider and model")
	}
	if c.ClassifierA.Prompt == "" {
		return fmt.Errorf("classifier_a requires a prompt")
	}
	if c.ClassifierB.Prompt == "" {
		return fmt.Errorf("classifier_b requires a prompt")
	}
	if c.SafetyMarginPercent < 0 || c.SafetyMarginPercent > 90 {
		return fmt.Errorf("safety_margin_percent must be within [0, 90]")
	}
	if _, err := time.ParseDuration(c.MaxRunTime); err != nil {
		return fmt.Errorf("invalid max_run_time: %w", err)
	}
	if _, err := time.ParseDuration(c.CallTimeout); err != nil {
		return fmt.Errorf("invalid call_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.AdjudicationDelay); err != nil {
		return fmt.Errorf("invalid adjudication_delay: %w", err)
	}
	return nil
}
