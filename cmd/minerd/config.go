package main

import (
	"os"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/naoina/toml"

	"github.com/ethcore-go/sealer/miner"
	"github.com/ethcore-go/sealer/miner/txqueue"
)

// tomlSettings mirrors the teacher's cmd/geth decoder configuration: field
// names are matched case-insensitively with underscores stripped, and an
// unknown key is a hard error rather than silently ignored.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return strings.ToUpper(strings.ReplaceAll(key, "_", ""))
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = " (see https://pkg.go.dev/" + rt.PkgPath() + "#" + rt.Name() + ")"
		}
		return &missingFieldError{rt.String(), field, link}
	},
}

type missingFieldError struct {
	typeName, field, link string
}

func (e *missingFieldError) Error() string {
	return e.typeName + "." + e.field + " is not defined in minerd's config schema" + e.link
}

// sealerConfig is the top-level TOML/CLI-overridable configuration for the
// demonstration binary. One field set per spec.md §6 MinerOptions plus the
// header fields a real caller would also need to supply (Miner.SetAuthor
// etc., SPEC_FULL.md §12).
type sealerConfig struct {
	Author    string // hex address, "" means the zero address
	ExtraData string

	GasFloor uint64
	GasCeil  uint64

	Miner minerOptionsConfig
	Log   logConfig
}

// minerOptionsConfig is the TOML-friendly mirror of miner.Options: plain
// field types only (durations as strings, enums as strings) so naoina/toml
// can decode it without custom UnmarshalTOML hooks, matching the teacher's
// own config structs in cmd/geth/config.go. It has no transaction-queue
// banning settings: toMinerOptions leaves TxQueueBanning at its disabled
// default.
type minerOptionsConfig struct {
	ForceSealing       bool
	ResealOnExternalTx bool
	ResealOnOwnTx      bool
	ResealMinPeriod    time.Duration
	ResealMaxPeriod    time.Duration
	TxGasLimit         uint64
	TxQueueSize        int
	TxQueueStrategy    string // "gasprice" | "gasfactor"
	PendingSet         string // "queue" | "sealing" | "sealing_or_queue"
	WorkQueueSize      int
	EnableResubmission bool
	TxQueueGasLimit    string // "auto" | "none" | "fixed"
	RefuseServiceTx    bool
	NewWorkNotifyURLs  []string
}

// logConfig configures the teacher's lumberjack-backed log-file rotation.
type logConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Verbosity  string
}

func defaultSealerConfig() sealerConfig {
	return sealerConfig{
		GasFloor: 8_000_000,
		GasCeil:  30_000_000,
		Miner: minerOptionsConfig{
			ResealOnOwnTx:      true,
			ResealMinPeriod:    2 * time.Second,
			ResealMaxPeriod:    120 * time.Second,
			TxGasLimit:         ^uint64(0),
			TxQueueSize:        1024,
			TxQueueStrategy:    "gasprice",
			PendingSet:         "queue",
			WorkQueueSize:      20,
			EnableResubmission: true,
			TxQueueGasLimit:    "auto",
		},
		Log: logConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Verbosity:  "info",
		},
	}
}

// loadConfig decodes a TOML file into cfg, following the teacher's
// cmd/geth loadConfig helper (open, decode with tomlSettings, wrap
// line-numbered decode errors with the file name).
func loadConfig(path string, cfg *sealerConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(f).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errorWithPath(err, path)
	}
	return err
}

func errorWithPath(err error, path string) error {
	return &pathError{path: path, err: err}
}

type pathError struct {
	path string
	err  error
}

func (e *pathError) Error() string { return e.path + ": " + e.err.Error() }

// toMinerOptions translates the TOML-friendly config into the strongly
// typed miner.Options the orchestrator actually consumes.
func (c minerOptionsConfig) toMinerOptions() miner.Options {
	opts := miner.DefaultOptions()
	opts.ForceSealing = c.ForceSealing
	opts.ResealOnExternalTx = c.ResealOnExternalTx
	opts.ResealOnOwnTx = c.ResealOnOwnTx
	if c.ResealMinPeriod > 0 {
		opts.ResealMinPeriod = c.ResealMinPeriod
	}
	if c.ResealMaxPeriod > 0 {
		opts.ResealMaxPeriod = c.ResealMaxPeriod
	}
	if c.TxGasLimit > 0 {
		opts.TxGasLimit = c.TxGasLimit
	}
	if c.TxQueueSize > 0 {
		opts.TxQueueSize = c.TxQueueSize
	}
	if c.WorkQueueSize > 0 {
		opts.WorkQueueSize = c.WorkQueueSize
	}
	opts.EnableResubmission = c.EnableResubmission
	opts.RefuseServiceTx = c.RefuseServiceTx
	opts.NewWorkNotifyURLs = c.NewWorkNotifyURLs

	switch c.TxQueueStrategy {
	case "gasfactor":
		opts.TxQueueStrategy = txqueue.GasFactorAndGasPrice
	default:
		opts.TxQueueStrategy = txqueue.GasPriceOnly
	}

	switch c.PendingSet {
	case "sealing":
		opts.PendingSet = miner.AlwaysSealing
	case "sealing_or_queue":
		opts.PendingSet = miner.SealingOrElseQueue
	default:
		opts.PendingSet = miner.AlwaysQueue
	}

	switch c.TxQueueGasLimit {
	case "none":
		opts.TxQueueGasLimit = txqueue.GasLimitNone
	case "fixed":
		opts.TxQueueGasLimit = txqueue.GasLimitFixed
	default:
		opts.TxQueueGasLimit = txqueue.GasLimitAuto
	}

	return opts
}
