package chaintrace

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/DQYXACML/chaintrace/chain"
	"github.com/DQYXACML/chaintrace/chain/evm"
	"github.com/DQYXACML/chaintrace/chain/node"
	"github.com/DQYXACML/chaintrace/config"
	"github.com/DQYXACML/chaintrace/database"
	"github.com/DQYXACML/chaintrace/jobs"
	"github.com/DQYXACML/chaintrace/metrics"
	"github.com/DQYXACML/chaintrace/trace"
	"github.com/DQYXACML/chaintrace/trace/risk"
)

// ChainTrace is the long-running service: a pool of trace job workers backed
// by postgres, plus an optional metrics endpoint.
type ChainTrace struct {
	cfg           *config.Config
	db            *database.DB
	manager       *jobs.Manager
	registry      *prometheus.Registry
	metricsServer *metrics.Server
	closeClients  func()
	stopped       atomic.Bool
}

func NewChainTrace(ctx context.Context, cfg *config.Config) (*ChainTrace, error) {
	if len(cfg.Chains) == 0 {
		return nil, errors.New("no chain configured")
	}
	chains, closeClients, err := DialRegistry(ctx, cfg.Chains)
	if err != nil {
		log.Error("dial chains fail", "err", err)
		return nil, err
	}
	db, err := database.NewDB(ctx, cfg.MasterDB)
	if err != nil {
		log.Error("new database fail", "err", err)
		closeClients()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	orchestrator := NewOrchestrator(cfg, chains, m)
	manager := jobs.NewManager(db.TraceJobs, orchestrator, jobs.Config{
		Workers:      cfg.Jobs.Workers,
		PollInterval: cfg.Jobs.PollInterval,
		MaxAttempts:  cfg.Jobs.MaxAttempts,
	}, m)

	return &ChainTrace{
		cfg:          cfg,
		db:           db,
		manager:      manager,
		registry:     reg,
		closeClients: closeClients,
	}, nil
}

// Manager is the job surface handed to request handlers.
func (ct *ChainTrace) Manager() *jobs.Manager {
	return ct.manager
}

func (ct *ChainTrace) Start(ctx context.Context) error {
	if ct.cfg.Metrics.Enabled {
		server, err := metrics.StartServer(ct.registry, ct.cfg.Metrics.Host, ct.cfg.Metrics.Port)
		if err != nil {
			return err
		}
		ct.metricsServer = server
	}
	return ct.manager.Start(ctx)
}

func (ct *ChainTrace) Stop(ctx context.Context) error {
	var result error
	if err := ct.manager.Stop(ctx); err != nil {
		result = errors.Join(result, err)
	}
	if ct.metricsServer != nil {
		if err := ct.metricsServer.Stop(ctx); err != nil {
			result = errors.Join(result, err)
		}
	}
	if err := ct.db.Close(); err != nil {
		result = errors.Join(result, err)
	}
	ct.closeClients()
	ct.stopped.Store(true)
	log.Info("chaintrace stopped")
	return result
}

func (ct *ChainTrace) Stopped() bool {
	return ct.stopped.Load()
}

// DialRegistry connects to every configured chain. The returned func closes
// the clients.
func DialRegistry(ctx context.Context, chains []config.ChainConfig) (*chain.Registry, func(), error) {
	registry := chain.NewRegistry()
	var clients []node.EthClient
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}
	for _, ch := range chains {
		client, err := node.DialEthClient(ctx, ch.RpcUrl)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		clients = append(clients, client)
		registry.Register(ch.Name, evm.NewSource(client, evm.Config{
			Chain:             ch.Name,
			Symbol:            ch.Symbol,
			Decimals:          ch.Decimals,
			RequestsPerSecond: ch.RequestsPerSecond,
			Burst:             ch.Burst,
			ScanBlocks:        ch.ScanBlocks,
			ScanBatch:         ch.ScanBatch,
			LogWindow:         ch.LogWindow,
			MaxRetries:        ch.MaxRetries,
		}))
		log.Info("chain registered", "chain", ch.Name)
	}
	return registry, closeAll, nil
}

func NewOrchestrator(cfg *config.Config, chains *chain.Registry, m metrics.Metricer) *trace.Orchestrator {
	return trace.NewOrchestrator(chains, risk.NewAnnotator(cfg.References), trace.Options{
		MaxDepth:        cfg.Trace.MaxDepth,
		ActivityLimit:   cfg.Trace.ActivityLimit,
		TokenSampleSize: cfg.Trace.TokenSampleSize,
		BatchSize:       cfg.Trace.BatchSize,
		CacheTTL:        cfg.Trace.CacheTTL,
		CacheMaxEntries: cfg.Trace.CacheMaxEntries,
	}, m)
}
