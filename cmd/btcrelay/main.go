// Command btcrelay keeps a verified bitcoin header chain and answers
// transaction inclusion queries against it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bitfsorg/btcrelay-go/config"
	"github.com/bitfsorg/btcrelay-go/metrics"
	"github.com/bitfsorg/btcrelay-go/network"
	"github.com/bitfsorg/btcrelay-go/relay"
)

type options struct {
	DataDir     string  `long:"datadir" env:"BTCRELAY_DATADIR" description:"data directory"`
	Network     string  `long:"network" env:"BTCRELAY_NETWORK" description:"network name (mainnet, testnet, regtest, signet, simnet)"`
	LogLevel    string  `long:"log-level" env:"BTCRELAY_LOG_LEVEL" description:"log level"`
	LogFile     string  `long:"log-file" env:"BTCRELAY_LOG_FILE" description:"additional log output file"`
	MetricsAddr *string `long:"metrics-addr" env:"BTCRELAY_METRICS_ADDR" description:"address for metrics server, empty disables it"`
	RPCURL      string  `long:"rpc-url" env:"BTCRELAY_RPC_URL" description:"bitcoind RPC URL"`
	RPCUser     string  `long:"rpc-user" env:"BTCRELAY_RPC_USER" description:"bitcoind RPC username"`
	RPCPassword string  `long:"rpc-password" env:"BTCRELAY_RPC_PASS" description:"bitcoind RPC password"`
	RPCRate     int     `long:"rpc-rate" env:"BTCRELAY_RPC_RATE" description:"max RPC requests per second, 0 for unlimited"`
}

// app carries state shared by every command. It is populated by setup
// before a command executes.
type app struct {
	opts   options
	ctx    context.Context
	out    io.Writer
	cfg    config.Config
	logger *zap.Logger

	// saved is set when the data directory already holds a config file.
	saved bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{ctx: ctx, out: os.Stdout}
	parser := newParser(a)
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, ferr.Message)
			return
		}
		if a.logger != nil {
			a.logger.Fatal("btcrelay failed", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, "btcrelay:", err)
		os.Exit(1)
	}
}

func newParser(a *app) *flags.Parser {
	parser := flags.NewParser(&a.opts, flags.HelpFlag|flags.PassDoubleDash)
	mustAdd(parser, "init", "Initialize the relay", "Seed the relay with a trusted header, given as hex or fetched from the node.", &initCommand{app: a})
	mustAdd(parser, "submit", "Submit block headers", "Validate and store one or more hex-encoded block headers.", &submitCommand{app: a})
	mustAdd(parser, "verify", "Verify a transaction", "Check that a transaction is included in the best chain.", &verifyCommand{app: a})
	mustAdd(parser, "best", "Show the best chain tip", "Print the height and hash of the best chain tip.", &bestCommand{app: a})
	mustAdd(parser, "hash", "Show a block hash", "Print the best-chain block hash at a height.", &hashCommand{app: a})
	mustAdd(parser, "forks", "List tracked chains", "Print every chain the relay tracks.", &forksCommand{app: a})
	mustAdd(parser, "sync", "Sync headers from a node", "Pull headers from a bitcoind node into the relay.", &syncCommand{app: a})
	parser.CommandHandler = a.execute
	return parser
}

// execute runs cmd once the global options are parsed.
func (a *app) execute(cmd flags.Commander, args []string) error {
	if cmd == nil {
		return nil
	}
	if err := a.setup(); err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()
	return cmd.Execute(args)
}

func mustAdd(p *flags.Parser, name, short, long string, data interface{}) {
	if _, err := p.AddCommand(name, short, long, data); err != nil {
		panic("btcrelay: add command " + name + ": " + err.Error())
	}
}

// setup loads the config file, applies flags on top and builds the logger.
func (a *app) setup() error {
	dataDir := a.opts.DataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}

	cfg, err := config.LoadConfig(config.ConfigPath(dataDir))
	if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		return err
	}
	a.saved = err == nil
	cfg.DataDir = dataDir
	a.apply(&cfg)

	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) apply(cfg *config.Config) {
	o := a.opts
	if o.Network != "" {
		cfg.Network = o.Network
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.LogFile != "" {
		cfg.LogFile = o.LogFile
	}
	if o.MetricsAddr != nil {
		cfg.MetricsAddr = *o.MetricsAddr
	}
	if o.RPCURL != "" {
		cfg.RPCURL = o.RPCURL
	}
	if o.RPCUser != "" {
		cfg.RPCUser = o.RPCUser
	}
	if o.RPCPassword != "" {
		cfg.RPCPassword = o.RPCPassword
	}
	if o.RPCRate > 0 {
		cfg.RPCRate = o.RPCRate
	}
}

// openRelay opens the journal in the data directory and replays it.
func (a *app) openRelay() (*relay.Relay, error) {
	params, err := a.cfg.Params()
	if err != nil {
		return nil, err
	}
	opts := append(a.cfg.RelayOptions(),
		relay.WithLogger(a.logger),
		relay.WithMetrics(metrics.NewRelay(a.cfg.Network)),
	)
	r, err := relay.Open(params, config.JournalPath(a.cfg.DataDir), opts...)
	if err != nil {
		return nil, fmt.Errorf("open relay: %w", err)
	}
	return r, nil
}

// newRelayer connects a relayer for r to the configured node.
func (a *app) newRelayer(r *relay.Relay) (*network.Relayer, error) {
	rpcCfg, err := network.ResolveConfig(&network.RPCConfig{
		URL:      a.cfg.RPCURL,
		User:     a.cfg.RPCUser,
		Password: a.cfg.RPCPassword,
		Rate:     a.cfg.RPCRate,
	}, nil, a.cfg.Network)
	if err != nil {
		return nil, err
	}
	client := network.NewRPCClient(*rpcCfg, network.WithRPCMetrics(metrics.NewRPCClient(a.cfg.Network)))
	return network.NewRelayer(client, r,
		network.WithRelayerLogger(a.logger),
		network.WithSyncMetrics(metrics.NewRelayer(a.cfg.Network)),
		network.WithMaxBackfill(a.cfg.MaxForkDepth),
	), nil
}

func startMetricsServer(ctx context.Context, addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}()
}
