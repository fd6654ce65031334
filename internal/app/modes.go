package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/crypto"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/executor"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/ledger"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/monitor"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/pool"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/server"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/server/handler"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/server/ws"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/settlement"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/vault"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/xcm"
)

// destinationStack bundles the destination-side engines that share one
// ledger service and one pool adapter.
type destinationStack struct {
	ledger   *ledger.Service
	executor *executor.Engine
	settle   *settlement.Engine
	monitor  *monitor.Monitor
	pool     *pool.Adapter
}

// relayerAuth builds the shared HMAC credentials.
func (a *App) relayerAuth() crypto.HMACAuth {
	return crypto.HMACAuth{Key: a.cfg.Relayer.Key, Secret: a.cfg.Relayer.Secret}
}

// buildSigner loads the executor key (raw or encrypted file) and binds it to
// the destination chain id.
func (a *App) buildSigner() (*crypto.Signer, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: load executor key: %w", err)
	}
	return crypto.NewSigner(key, a.cfg.Chain.ChainID)
}

// buildDestinationStack wires the destination-side engines: EVM pool
// adapter, ledger, instruction executor, settlement, and breach monitor.
func (a *App) buildDestinationStack(ctx context.Context, deps *Dependencies, transport *xcm.Relayer) (*destinationStack, error) {
	signer, err := a.buildSigner()
	if err != nil {
		return nil, err
	}

	adapter, err := pool.New(ctx, pool.Config{
		RPCURL:   a.cfg.Chain.RPCURL,
		Executor: common.HexToAddress(a.cfg.Chain.ExecutorAddress),
		GasLimit: a.cfg.Chain.GasLimit,
	}, signer, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: pool adapter: %w", err)
	}
	a.closers = append(a.closers, adapter.Close)

	led := ledger.New(deps.PositionStore, deps.PendingStore, deps.AuditStore, deps.SignalBus, a.logger)
	exec := executor.New(led, adapter, transport, deps.ChainStore, deps.AssetStore, a.logger)
	settle := settlement.New(led, adapter, transport, deps.ChainStore, deps.Alerter, a.logger)
	mon := monitor.New(led, settle, deps.SettingsStore, deps.LockManager, deps.TickCache, a.logger)

	return &destinationStack{
		ledger:   led,
		executor: exec,
		settle:   settle,
		monitor:  mon,
		pool:     adapter,
	}, nil
}

// buildVault wires the home-ledger vault service.
func (a *App) buildVault(deps *Dependencies, transport *xcm.Relayer) *vault.Service {
	return vault.New(
		deps.BalanceStore, deps.HomeStore,
		deps.ChainStore, deps.AssetStore,
		transport, deps.AuditStore, deps.Alerter, a.logger,
	)
}

// HomeMode runs the home-ledger side: the vault (deposits, withdrawals,
// investment dispatch, proceeds receipt) and its operator API.
func (a *App) HomeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting home mode")

	g, ctx := errgroup.WithContext(ctx)

	transport := xcm.NewRelayer(a.relayerAuth(), a.logger)
	vaultSvc := a.buildVault(deps, transport)
	receiver := xcm.NewReceiver(a.relayerAuth(), nil, vaultSvc, a.logger)

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Registry: handler.NewRegistryHandler(deps.SettingsStore, deps.AssetStore, deps.ChainStore, a.logger),
		Vault:    handler.NewVaultHandler(vaultSvc, a.logger),
		Inbound:  receiver,
	}
	a.startHTTPServer(ctx, g, deps, handlers)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// ExecutorMode runs the destination-side instruction path: inbound invest
// deliveries, the pending sweep loop, and the pending/registry API.
func (a *App) ExecutorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting executor mode")

	g, ctx := errgroup.WithContext(ctx)

	transport := xcm.NewRelayer(a.relayerAuth(), a.logger)
	stack, err := a.buildDestinationStack(ctx, deps, transport)
	if err != nil {
		return err
	}
	receiver := xcm.NewReceiver(a.relayerAuth(), stack.executor, nil, a.logger)

	g.Go(func() error {
		err := stack.executor.RunSweepLoop(ctx, a.cfg.Executor.SweepInterval.Duration, a.cfg.Executor.SweepBatch)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Pending:  handler.NewPendingHandler(stack.ledger, stack.executor, a.logger),
		Registry: handler.NewRegistryHandler(deps.SettingsStore, deps.AssetStore, deps.ChainStore, a.logger),
		Inbound:  receiver,
	}
	a.startHTTPServer(ctx, g, deps, handlers)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// MonitorMode runs the breach monitor and the position/settlement API.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	transport := xcm.NewRelayer(a.relayerAuth(), a.logger)
	stack, err := a.buildDestinationStack(ctx, deps, transport)
	if err != nil {
		return err
	}

	g.Go(func() error {
		err := stack.monitor.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Positions: handler.NewPositionHandler(stack.ledger, stack.monitor, a.logger),
		Monitor:   handler.NewMonitorHandler(stack.monitor, a.logger),
		Returns:   handler.NewReturnHandler(stack.settle, a.logger),
		Registry:  handler.NewRegistryHandler(deps.SettingsStore, deps.AssetStore, deps.ChainStore, a.logger),
	}
	a.startHTTPServer(ctx, g, deps, handlers)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// FullMode runs both ledger sides in one process: vault, executor, breach
// monitor, sweep loop, and the complete operator API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	transport := xcm.NewRelayer(a.relayerAuth(), a.logger)
	stack, err := a.buildDestinationStack(ctx, deps, transport)
	if err != nil {
		return err
	}
	vaultSvc := a.buildVault(deps, transport)
	receiver := xcm.NewReceiver(a.relayerAuth(), stack.executor, vaultSvc, a.logger)

	g.Go(func() error {
		err := stack.monitor.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := stack.executor.RunSweepLoop(ctx, a.cfg.Executor.SweepInterval.Duration, a.cfg.Executor.SweepBatch)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Positions: handler.NewPositionHandler(stack.ledger, stack.monitor, a.logger),
		Pending:   handler.NewPendingHandler(stack.ledger, stack.executor, a.logger),
		Monitor:   handler.NewMonitorHandler(stack.monitor, a.logger),
		Returns:   handler.NewReturnHandler(stack.settle, a.logger),
		Registry:  handler.NewRegistryHandler(deps.SettingsStore, deps.AssetStore, deps.ChainStore, a.logger),
		Vault:     handler.NewVaultHandler(vaultSvc, a.logger),
		Inbound:   receiver,
	}
	a.startHTTPServer(ctx, g, deps, handlers)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// startHTTPServer starts the operator API and the WebSocket hub when the
// server is enabled, plus a watcher that shuts the listener down on context
// cancellation.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, handlers server.Handlers) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); ctx.Err() == nil {
			return err
		}
		return nil
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startArchiver starts the terminal-position archiver when S3 is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	g.Go(func() error {
		if err := deps.Archiver.Run(ctx, a.cfg.S3.ArchiveInterval.Duration); ctx.Err() == nil {
			return err
		}
		return nil
	})
}
