// Command minerd demonstrates wiring a miner.Miner: it loads the ambient
// configuration (TOML file + CLI flag overrides), builds a Miner against
// an in-memory demo chain client, imports one transaction and drives a
// single update-sealing round, then exits. It is a wiring exercise, not a
// node: it opens no sockets and serves no RPC, per spec.md §1 Non-goals.
package main

import (
	"fmt"
	"log/slog"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ethcore-go/sealer/miner"
	"github.com/ethcore-go/sealer/miner/gasprice"
	"github.com/ethcore-go/sealer/miner/servicetx"
)

var (
	configFileFlag = &cli.StringFlag{Name: "config", Usage: "TOML configuration file"}
	authorFlag     = &cli.StringFlag{Name: "miner.author", Usage: "Block author address (hex)"}
	extraDataFlag  = &cli.StringFlag{Name: "miner.extradata", Usage: "Block extra-data string"}
	forceSealFlag  = &cli.BoolFlag{Name: "miner.forcesealing", Usage: "Seal even when no transactions are pending"}
	gasPriceFlag   = &cli.Uint64Flag{Name: "miner.gasprice", Value: 1, Usage: "Fixed minimal gas price, in wei"}
	notifyFlag     = &cli.StringSliceFlag{Name: "miner.notify", Usage: "Work notification URLs"}
	logFileFlag    = &cli.StringFlag{Name: "log.file", Usage: "Log file path (rotated via lumberjack); empty logs to stderr"}
	verbosityFlag  = &cli.StringFlag{Name: "verbosity", Value: "info", Usage: "Log verbosity: trace|debug|info|warn|error"}
)

func main() {
	app := &cli.App{
		Name:  "minerd",
		Usage: "block-production orchestrator demonstration",
		Flags: []cli.Flag{
			configFileFlag, authorFlag, extraDataFlag, forceSealFlag,
			gasPriceFlag, notifyFlag, logFileFlag, verbosityFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg := defaultSealerConfig()
	if path := ctx.String(configFileFlag.Name); path != "" {
		if err := loadConfig(path, &cfg); err != nil {
			return err
		}
	}
	applyFlags(ctx, &cfg)
	setupLogging(cfg.Log)

	opts := cfg.Miner.toMinerOptions()

	var author common.Address
	if cfg.Author != "" {
		author = common.HexToAddress(cfg.Author)
	}

	chain := newDemoChain(cfg.GasCeil)
	pricer := gasprice.NewFixed(uint256.NewInt(ctx.Uint64(gasPriceFlag.Name)))
	m := miner.New(chain, demoEngine{}, types.HomesteadSigner{}, pricer, servicetx.NewRefuse(), opts)
	m.SetAuthor(author)
	m.SetExtraData([]byte(cfg.ExtraData))
	m.SetGasRangeTarget(cfg.GasFloor, cfg.GasCeil)

	log.Info("minerd wired up", "author", author, "force_sealing", opts.ForceSealing, "pending_set", opts.PendingSet)

	if err := importDemoTransaction(m); err != nil {
		log.Warn("demo transaction import failed", "err", err)
	}
	m.UpdateSealing()

	status := m.Status()
	log.Info("miner status after one update_sealing round", "pending", status.Pending, "future", status.Future)
	return nil
}

// importDemoTransaction shows the import_own path (spec.md §4.1) with a
// throwaway signed transaction; a real caller would come from an RPC
// submission instead.
func importDemoTransaction(m *miner.Miner) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	tx, err := types.SignTx(
		types.NewTransaction(0, common.Address{0x1}, big.NewInt(0), 21000, big.NewInt(1), nil),
		types.HomesteadSigner{}, key,
	)
	if err != nil {
		return err
	}
	_, err = m.ImportOwn(miner.PendingTransaction{Transaction: tx})
	return err
}

func applyFlags(ctx *cli.Context, cfg *sealerConfig) {
	if ctx.IsSet(authorFlag.Name) {
		cfg.Author = ctx.String(authorFlag.Name)
	}
	if ctx.IsSet(extraDataFlag.Name) {
		cfg.ExtraData = ctx.String(extraDataFlag.Name)
	}
	if ctx.IsSet(forceSealFlag.Name) {
		cfg.Miner.ForceSealing = ctx.Bool(forceSealFlag.Name)
	}
	if ctx.IsSet(notifyFlag.Name) {
		cfg.Miner.NewWorkNotifyURLs = ctx.StringSlice(notifyFlag.Name)
	}
	if ctx.IsSet(logFileFlag.Name) {
		cfg.Log.File = ctx.String(logFileFlag.Name)
	}
	if ctx.IsSet(verbosityFlag.Name) {
		cfg.Log.Verbosity = ctx.String(verbosityFlag.Name)
	}
}

// setupLogging wires the teacher's slog-backed logger to either stderr or
// a lumberjack-rotated file, matching cmd/geth's --log.file convention.
func setupLogging(cfg logConfig) {
	var handler = log.NewTerminalHandler(os.Stderr, false)
	if cfg.File != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		handler = log.NewTerminalHandler(writer, false)
	}

	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(levelFromString(cfg.Verbosity))
	log.SetDefault(log.NewLogger(glogger))
}

// levelFromString maps the --verbosity flag's name to the log package's
// slog.Level-typed constants (the teacher's log package moved onto
// log/slog and dropped the old log15 LvlFromString parser).
func levelFromString(s string) slog.Level {
	switch s {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "crit":
		return log.LevelCrit
	default:
		return log.LevelInfo
	}
}
