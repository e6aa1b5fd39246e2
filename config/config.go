package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/DQYXACML/chaintrace/common/errs"
	"github.com/DQYXACML/chaintrace/flags"
	"github.com/DQYXACML/chaintrace/trace"
	"github.com/DQYXACML/chaintrace/trace/risk"
)

type Config struct {
	Chains     []ChainConfig
	MasterDB   DBConfig
	Trace      TraceConfig
	Jobs       JobsConfig
	Metrics    MetricsConfig
	References risk.References
}

type ChainConfig struct {
	Name              string  `yaml:"name"`
	RpcUrl            string  `yaml:"rpc_url"`
	Symbol            string  `yaml:"symbol"`
	Decimals          uint8   `yaml:"decimals"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	ScanBlocks        uint64  `yaml:"scan_blocks"`
	ScanBatch         uint64  `yaml:"scan_batch"`
	LogWindow         uint64  `yaml:"log_window"`
	MaxRetries        int     `yaml:"max_retries"`
}

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

func (c DBConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s dbname=%s sslmode=disable", c.Host, c.Name)
	if c.Port != 0 {
		dsn += fmt.Sprintf(" port=%d", c.Port)
	}
	if c.User != "" {
		dsn += fmt.Sprintf(" user=%s", c.User)
	}
	if c.Password != "" {
		dsn += fmt.Sprintf(" password=%s", c.Password)
	}
	return dsn
}

type TraceConfig struct {
	MaxDepth        int
	ActivityLimit   int
	BatchSize       int
	TokenSampleSize int
	CacheTTL        time.Duration
	CacheMaxEntries int
}

type JobsConfig struct {
	Workers      int
	PollInterval time.Duration
	MaxAttempts  int
}

type MetricsConfig struct {
	Enabled bool
	Host    string
	Port    int
}

// fileConfig is the optional YAML overlay.
type fileConfig struct {
	Chains     []ChainConfig   `yaml:"chains"`
	References risk.References `yaml:"references"`
}

func LoadConfig(cliCtx *cli.Context) (Config, error) {
	cfg := NewConfig(cliCtx)
	if path := cliCtx.String(flags.ConfigFileFlag.Name); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	log.Info("loaded config", "chains", len(cfg.Chains), "workers", cfg.Jobs.Workers, "max_depth", cfg.Trace.MaxDepth)
	return cfg, nil
}

func NewConfig(cliCtx *cli.Context) Config {
	cfg := Config{
		MasterDB: DBConfig{
			Host:     cliCtx.String(flags.MasterDbHostFlag.Name),
			Port:     cliCtx.Int(flags.MasterDbPortFlag.Name),
			Name:     cliCtx.String(flags.MasterDbNameFlag.Name),
			User:     cliCtx.String(flags.MasterDbUserFlag.Name),
			Password: cliCtx.String(flags.MasterDbPasswordFlag.Name),
		},
		Trace: TraceConfig{
			MaxDepth:        cliCtx.Int(flags.TraceMaxDepthFlag.Name),
			ActivityLimit:   cliCtx.Int(flags.TraceActivityLimitFlag.Name),
			BatchSize:       cliCtx.Int(flags.TraceBatchSizeFlag.Name),
			TokenSampleSize: cliCtx.Int(flags.TraceTokenSampleFlag.Name),
			CacheTTL:        cliCtx.Duration(flags.CacheTTLFlag.Name),
			CacheMaxEntries: cliCtx.Int(flags.CacheMaxEntriesFlag.Name),
		},
		Jobs: JobsConfig{
			Workers:      cliCtx.Int(flags.JobWorkersFlag.Name),
			PollInterval: cliCtx.Duration(flags.JobPollIntervalFlag.Name),
			MaxAttempts:  cliCtx.Int(flags.JobMaxAttemptsFlag.Name),
		},
		Metrics: MetricsConfig{
			Enabled: cliCtx.Bool(flags.MetricsEnabledFlag.Name),
			Host:    cliCtx.String(flags.MetricsHostFlag.Name),
			Port:    cliCtx.Int(flags.MetricsPortFlag.Name),
		},
		References: risk.DefaultReferences(),
	}
	if rpcUrl := cliCtx.String(flags.ChainRpcFlag.Name); rpcUrl != "" {
		cfg.Chains = append(cfg.Chains, ChainConfig{
			Name:              cliCtx.String(flags.ChainNameFlag.Name),
			RpcUrl:            rpcUrl,
			RequestsPerSecond: cliCtx.Float64(flags.ChainRpsFlag.Name),
			MaxRetries:        cliCtx.Int(flags.ChainMaxRetriesFlag.Name),
		})
	}
	return cfg
}

// applyFile adds the chains and reference addresses of a YAML file. A chain
// named in the file replaces a flag-configured chain of the same name.
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeConfig, "failed to read config file", err).AddContext("path", path)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return errs.Wrap(errs.ErrorTypeConfig, "failed to parse config file", err).AddContext("path", path)
	}
	for _, fileChain := range fc.Chains {
		replaced := false
		for i := range c.Chains {
			if strings.EqualFold(c.Chains[i].Name, fileChain.Name) {
				c.Chains[i] = fileChain
				replaced = true
			}
		}
		if !replaced {
			c.Chains = append(c.Chains, fileChain)
		}
	}
	c.References = c.References.Merge(fc.References)
	return nil
}

func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, ch := range c.Chains {
		if ch.Name == "" {
			return errs.NewConfigError("chains.name", "chain name is required")
		}
		if ch.RpcUrl == "" {
			return errs.NewConfigError("chains.rpc_url", "rpc url is required").AddContext("chain", ch.Name)
		}
		if seen[ch.Name] {
			return errs.NewConfigError("chains.name", "duplicate chain").AddContext("chain", ch.Name)
		}
		seen[ch.Name] = true
	}
	switch {
	case c.Trace.MaxDepth < 1 || c.Trace.MaxDepth > trace.MaxDepthCap:
		return errs.NewConfigError("trace.max_depth", fmt.Sprintf("must be between 1 and %d", trace.MaxDepthCap))
	case c.Trace.ActivityLimit < 1 || c.Trace.ActivityLimit > trace.MaxActivityLimit:
		return errs.NewConfigError("trace.activity_limit", fmt.Sprintf("must be between 1 and %d", trace.MaxActivityLimit))
	case c.Trace.BatchSize < 1:
		return errs.NewConfigError("trace.batch_size", "must be at least 1")
	case c.Jobs.Workers < 1:
		return errs.NewConfigError("jobs.workers", "must be at least 1")
	case c.Jobs.MaxAttempts < 1:
		return errs.NewConfigError("jobs.max_attempts", "must be at least 1")
	}
	return nil
}
