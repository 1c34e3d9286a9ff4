// Package config holds the yaml configuration surface of the CLI and
// the flag-friendly value types it needs.
package config

import (
	"fmt"
	"time"

	"github.com/alecthomas/units"
	"gopkg.in/yaml.v3"

	"github.com/threatvet/threatvet/pkg/verdict"
)

// Version is set at build time.
var Version = "dev"

var (
	DefaultWorkers            uint = 4
	DefaultExtractWorkers     uint = 2
	DefaultFastTimeout             = Duration(5 * time.Second)
	DefaultDeepTimeout             = Duration(30 * time.Second)
	DefaultVerdictValidity         = Duration(time.Hour * 24 * 30)
	DefaultModificationDelay       = Duration(time.Second * 30)
	DefaultMaxFileSize             = "100MiB"
	DefaultQuarantinePassword      = "infected"
	DefaultBackend                 = "nsjail"
)

// Duration is a time.Duration that reads and writes as a human string
// ("30s", "5m") in yaml, json and on the flag set.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) Set(value string) error {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) Type() string { return "duration" }

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.Set(raw)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", d.String())), nil
}

// Size is a byte count that reads and writes as a base-2 unit string
// ("100MiB") but also accepts a plain integer in yaml.
type Size int64

func (s Size) String() string { return units.Base2Bytes(s).String() }

func (s *Size) Set(value string) error {
	parsed, err := units.ParseBase2Bytes(value)
	if err != nil {
		return err
	}
	*s = Size(parsed)
	return nil
}

func (s *Size) Type() string { return "size" }

func (s Size) MarshalYAML() (any, error) { return s.String(), nil }

func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	var raw int64
	if err := value.Decode(&raw); err == nil {
		*s = Size(raw)
		return nil
	}
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}
	return s.Set(str)
}

type SandboxConfig struct {
	Backend                string `json:"backend" yaml:"backend" desc:"isolation backend binary, resolved via PATH"`
	ConfigPath             string `json:"config_path,omitempty" yaml:"configPath" desc:"isolation profile path, overrides the default search paths"`
	MaxMemory              Size   `json:"max_memory" yaml:"maxMemory" desc:"address space cap for the analyzed payload"`
	AllowNetwork           bool   `json:"allow_network" yaml:"allowNetwork" desc:"keep the network namespace shared with the host"`
	InjectionKillThreshold uint   `json:"injection_kill_threshold,omitempty" yaml:"injectionKillThreshold" desc:"code injection count that aborts a run immediately"`
}

type PipelineConfig struct {
	EnableFast         bool     `json:"enable_fast" yaml:"enableFast" desc:"run the static pre-scan tier"`
	EnableDeep         bool     `json:"enable_deep" yaml:"enableDeep" desc:"run the behavioral sandbox tier"`
	FastTimeout        Duration `json:"fast_timeout" yaml:"fastTimeout" desc:"timeout of the static tier"`
	DeepTimeout        Duration `json:"deep_timeout" yaml:"deepTimeout" desc:"timeout of the sandbox tier"`
	SkipDeepConfidence float64  `json:"skip_deep_confidence,omitempty" yaml:"skipDeepConfidence" desc:"static confidence above which the sandbox is skipped"`
	DeepTriggerScore   float64  `json:"deep_trigger_score,omitempty" yaml:"deepTriggerScore" desc:"static score above which the sandbox runs anyway"`
}

type VerdictConfig struct {
	Weights    verdict.Weights    `json:"weights,omitempty" yaml:"weights" desc:"per tier weights of the composite score"`
	Thresholds verdict.Thresholds `json:"thresholds,omitempty" yaml:"thresholds" desc:"threat level cut points"`
}

type CacheConfig struct {
	Location string   `json:"location" yaml:"location" desc:"location of the verdict cache file. if empty, cache will be volatile"`
	Validity Duration `json:"validity" yaml:"validity" desc:"how long a cached verdict stays valid"`
}

type QuarantineConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" desc:"quarantine malicious files"`
	Location string `json:"location" yaml:"location" desc:"path to keep quarantined files"`
	Registry string `json:"registry" yaml:"registry" desc:"path to the database that stores quarantined and restored file entries (leave empty for in-memory store, lost on restart)"`
	Password string `json:"password" yaml:"password" desc:"password used to lock files in quarantine"`
}

type MonitoringConfig struct {
	PreScan           bool     `json:"pre_scan,omitempty" yaml:"preScan" desc:"scan all files when starting to watch"`
	ReScan            bool     `json:"re_scan,omitempty" yaml:"reScan" desc:"re scan all files periodically"`
	Period            Duration `json:"period,omitempty" yaml:"period" desc:"interval between full rescans of watched directories"`
	ModificationDelay Duration `json:"modification_delay" yaml:"modificationDelay" desc:"quiet time before a new file is considered settled"`
}

type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint" desc:"S3 compatible endpoint, empty for AWS"`
	Region          string `json:"region,omitempty" yaml:"region" desc:"S3 region"`
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"accessKeyId" desc:"S3 access key"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secretAccessKey" password:"true" desc:"S3 secret key"`
	Insecure        bool   `json:"insecure,omitempty" yaml:"insecure" desc:"do not check S3 endpoint certificates"`
	UsePathStyle    bool   `json:"use_path_style,omitempty" yaml:"usePathStyle" desc:"use path style object addressing (minio)"`
}

type Config struct {
	// global
	Config  string `json:"config" yaml:"config" desc:"path to configuration file"`
	Workers uint   `mapstructure:"workers" yaml:"workers" validate:"max=20,min=1" desc:"number of analysis workers" json:"workers"`
	Debug   bool   `mapstructure:"debug" yaml:"debug" desc:"print debug strings" json:"debug"`
	Verbose bool   `mapstructure:"verbose" yaml:"verbose" desc:"print information strings" json:"verbose"`
	Quiet   bool   `mapstructure:"quiet" yaml:"quiet" desc:"print no information strings" json:"quiet"`

	Paths       []string `mapstructure:"paths" yaml:"paths" desc:"directories to watch" json:"paths"`
	MaxFileSize Size     `json:"max_file_size" yaml:"maxFileSize" desc:"largest payload accepted for analysis"`
	Report      string   `json:"report,omitempty" yaml:"report" desc:"file path for JSON scan reports (leave empty to disable)"`

	Extract        bool `json:"extract" yaml:"extract" desc:"extract archives exceeding maxFileSize and analyze their content"`
	ExtractWorkers uint `json:"extract_workers" yaml:"extractWorkers" desc:"number of concurrent workers for archive extraction"`

	Pipeline   PipelineConfig   `json:"pipeline" yaml:"pipeline" desc:"tier gating configuration"`
	Sandbox    SandboxConfig    `json:"sandbox" yaml:"sandbox" desc:"behavioral sandbox configuration"`
	Verdict    VerdictConfig    `json:"verdict" yaml:"verdict" desc:"verdict scoring configuration"`
	Cache      CacheConfig      `json:"cache" yaml:"cache" desc:"verdict cache configuration"`
	Quarantine QuarantineConfig `json:"quarantine" yaml:"quarantine" desc:"quarantine configuration"`
	Monitoring MonitoringConfig `json:"monitoring" yaml:"monitoring" desc:"watch mode configuration"`
	S3         S3Config         `json:"s3" yaml:"s3" desc:"S3 input configuration"`
}

// New returns the default configuration with per-OS paths filled in.
func New() *Config {
	maxSize, _ := units.ParseBase2Bytes(DefaultMaxFileSize)
	return &Config{
		Config:         DefaultConfigPath,
		Workers:        DefaultWorkers,
		ExtractWorkers: DefaultExtractWorkers,
		MaxFileSize:    Size(maxSize),
		Pipeline: PipelineConfig{
			EnableFast:  true,
			EnableDeep:  true,
			FastTimeout: DefaultFastTimeout,
			DeepTimeout: DefaultDeepTimeout,
		},
		Sandbox: SandboxConfig{
			Backend:   DefaultBackend,
			MaxMemory: Size(512 << 20),
		},
		Verdict: VerdictConfig{
			Weights:    verdict.DefaultWeights(),
			Thresholds: verdict.DefaultThresholds(),
		},
		Cache: CacheConfig{
			Location: DefaultCacheLocation,
			Validity: DefaultVerdictValidity,
		},
		Quarantine: QuarantineConfig{
			Enabled:  true,
			Location: DefaultQuarantineLocation,
			Password: DefaultQuarantinePassword,
		},
		Monitoring: MonitoringConfig{
			ModificationDelay: DefaultModificationDelay,
		},
	}
}
