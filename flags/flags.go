package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

const envVarPrefix = "CHAINTRACE"

func prefixEnvVars(name string) []string {
	return []string{envVarPrefix + "_" + name}
}

var (
	ConfigFileFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to a YAML file with chain endpoints and reference addresses",
		EnvVars: prefixEnvVars("CONFIG"),
	}
	MigrationsFlag = &cli.StringFlag{
		Name:    "migrations-dir",
		Value:   "./database/migrations",
		Usage:   "Path to the SQL migrations folder",
		EnvVars: prefixEnvVars("MIGRATIONS_DIR"),
	}
	LogLevelFlag = &cli.StringFlag{
		Name:    "log.level",
		Value:   "info",
		Usage:   "Log level: trace, debug, info, warn, error, crit",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
	}

	// Chain. A single chain can be configured by flag; more go in the config file.
	ChainNameFlag = &cli.StringFlag{
		Name:    "chain-name",
		Value:   "ethereum",
		Usage:   "Identifier of the chain reached through chain-rpc",
		EnvVars: prefixEnvVars("CHAIN_NAME"),
	}
	ChainRpcFlag = &cli.StringFlag{
		Name:    "chain-rpc",
		Usage:   "HTTP or WebSocket URL of the chain JSON-RPC endpoint",
		EnvVars: prefixEnvVars("CHAIN_RPC"),
	}
	ChainRpsFlag = &cli.Float64Flag{
		Name:    "chain-rps",
		Value:   10,
		Usage:   "Maximum JSON-RPC requests per second, 0 disables throttling",
		EnvVars: prefixEnvVars("CHAIN_RPS"),
	}
	ChainMaxRetriesFlag = &cli.IntFlag{
		Name:    "chain-max-retries",
		Value:   3,
		Usage:   "Retries of a failed JSON-RPC call",
		EnvVars: prefixEnvVars("CHAIN_MAX_RETRIES"),
	}

	// Database
	MasterDbHostFlag = &cli.StringFlag{
		Name:    "master-db-host",
		Value:   "127.0.0.1",
		Usage:   "The host of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_HOST"),
	}
	MasterDbPortFlag = &cli.IntFlag{
		Name:    "master-db-port",
		Value:   5432,
		Usage:   "The port of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_PORT"),
	}
	MasterDbUserFlag = &cli.StringFlag{
		Name:    "master-db-user",
		Usage:   "The user of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_USER"),
	}
	MasterDbPasswordFlag = &cli.StringFlag{
		Name:    "master-db-password",
		Usage:   "The password of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_PASSWORD"),
	}
	MasterDbNameFlag = &cli.StringFlag{
		Name:    "master-db-name",
		Value:   "chaintrace",
		Usage:   "The db name of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_NAME"),
	}

	// Trace
	TraceMaxDepthFlag = &cli.IntFlag{
		Name:    "trace-max-depth",
		Value:   5,
		Usage:   "Largest depth a trace request may ask for",
		EnvVars: prefixEnvVars("TRACE_MAX_DEPTH"),
	}
	TraceActivityLimitFlag = &cli.IntFlag{
		Name:    "trace-activity-limit",
		Value:   15,
		Usage:   "Recent transactions fetched per visited address",
		EnvVars: prefixEnvVars("TRACE_ACTIVITY_LIMIT"),
	}
	TraceBatchSizeFlag = &cli.IntFlag{
		Name:    "trace-batch-size",
		Value:   5,
		Usage:   "Branches expanded concurrently",
		EnvVars: prefixEnvVars("TRACE_BATCH_SIZE"),
	}
	TraceTokenSampleFlag = &cli.IntFlag{
		Name:    "trace-token-sample",
		Value:   3,
		Usage:   "Token transfers attached to each edge",
		EnvVars: prefixEnvVars("TRACE_TOKEN_SAMPLE"),
	}
	CacheTTLFlag = &cli.DurationFlag{
		Name:    "cache-ttl",
		Value:   5 * time.Minute,
		Usage:   "Lifetime of cached lookups within a trace",
		EnvVars: prefixEnvVars("CACHE_TTL"),
	}
	CacheMaxEntriesFlag = &cli.IntFlag{
		Name:    "cache-max-entries",
		Value:   10000,
		Usage:   "Entries kept by the per-trace lookup cache",
		EnvVars: prefixEnvVars("CACHE_MAX_ENTRIES"),
	}

	// Jobs
	JobWorkersFlag = &cli.IntFlag{
		Name:    "job-workers",
		Value:   3,
		Usage:   "Trace jobs processed concurrently",
		EnvVars: prefixEnvVars("JOB_WORKERS"),
	}
	JobPollIntervalFlag = &cli.DurationFlag{
		Name:    "job-poll-interval",
		Value:   time.Second,
		Usage:   "Interval between polls for pending jobs",
		EnvVars: prefixEnvVars("JOB_POLL_INTERVAL"),
	}
	JobMaxAttemptsFlag = &cli.IntFlag{
		Name:    "job-max-attempts",
		Value:   1,
		Usage:   "Runs of a job before a transient failure becomes final",
		EnvVars: prefixEnvVars("JOB_MAX_ATTEMPTS"),
	}

	// Metrics
	MetricsEnabledFlag = &cli.BoolFlag{
		Name:    "metrics-enabled",
		Usage:   "Serve prometheus metrics",
		EnvVars: prefixEnvVars("METRICS_ENABLED"),
	}
	MetricsHostFlag = &cli.StringFlag{
		Name:    "metrics-host",
		Value:   "0.0.0.0",
		Usage:   "Listen address of the metrics server",
		EnvVars: prefixEnvVars("METRICS_HOST"),
	}
	MetricsPortFlag = &cli.IntFlag{
		Name:    "metrics-port",
		Value:   7300,
		Usage:   "Listen port of the metrics server",
		EnvVars: prefixEnvVars("METRICS_PORT"),
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	ConfigFileFlag,
	LogLevelFlag,
	ChainNameFlag,
	ChainRpcFlag,
	ChainRpsFlag,
	ChainMaxRetriesFlag,
	MasterDbHostFlag,
	MasterDbPortFlag,
	MasterDbUserFlag,
	MasterDbPasswordFlag,
	MasterDbNameFlag,
	TraceMaxDepthFlag,
	TraceActivityLimitFlag,
	TraceBatchSizeFlag,
	TraceTokenSampleFlag,
	CacheTTLFlag,
	CacheMaxEntriesFlag,
	JobWorkersFlag,
	JobPollIntervalFlag,
	JobMaxAttemptsFlag,
	MetricsEnabledFlag,
	MetricsHostFlag,
	MetricsPortFlag,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}
