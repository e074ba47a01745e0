// Package cli implements the keyvault command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mesh-intelligence/keyvault/internal/vault"
	"github.com/mesh-intelligence/keyvault/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// errUsage marks malformed arguments and flags.
var errUsage = errors.New("usage")

// errNotInitialized is returned by commands that need a recorded unlock
// instant before init has run.
var errNotInitialized = errors.New("vault not initialized; run keyvault init")

// app holds global flag values and per-invocation state shared by
// subcommands.
type app struct {
	configDir string
	dataDir   string
	jsonMode  bool
	verbose   bool
	now       string

	log *zap.Logger
	cfg types.Config
}

// NewRootCmd creates the top-level "keyvault" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{log: zap.NewNop()}
	root := &cobra.Command{
		Use:   "keyvault",
		Short: "A time-locked vault paying key holders a share of a shared pool",
		Long: "keyvault custodies a pool of fungible value. After the unlock instant, holders of\n" +
			"key units claim floor(balance * units / supply) from the live pool balance, once per unit.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.log.Sync()
		},
	}

	root.PersistentFlags().StringVar(&a.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory (default: $(CWD)/.keyvault-db)")
	root.PersistentFlags().BoolVar(&a.jsonMode, "json", false, "output as JSON")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging to stderr")
	root.PersistentFlags().StringVar(&a.now, "now", "", "evaluate the unlock gate at this instant (RFC 3339 or Unix seconds)")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", errUsage, err)
	})

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newDepositCmd(a),
		newFundCmd(a),
		newSendCmd(a),
		newMintCmd(a),
		newGiveCmd(a),
		newClaimCmd(a),
		newClaimAllCmd(a),
		newStatusCmd(a),
		newClaimedCmd(a),
		newReceiptsCmd(a),
		newExportCmd(a),
		newImportCmd(a),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return exitCode(err)
}

// exitCode maps an error to the process exit code: 1 for errors the caller
// can fix, 2 for configuration and storage failures.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	if vault.IsUserError(err) {
		return exitUserError
	}
	for _, target := range []error{
		errUsage,
		errNotInitialized,
		types.ErrInsufficientBalance,
		types.ErrInvalidHolder,
		types.ErrInvalidAmount,
		types.ErrUnitNotFound,
	} {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}

// setup builds the logger and loads configuration before any subcommand.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if a.verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	log, err := zc.Build()
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	a.log = log

	if cmd.Name() == "version" {
		return nil
	}
	cfg, err := loadConfig(a.configDir, a.dataDir)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log.Debug("configuration loaded",
		zap.String("data_dir", cfg.DataDir),
		zap.String("pool", cfg.Pool),
		zap.String("registry", cfg.Registry),
	)
	return nil
}

// clock returns the --now override or the wall clock.
func (a *app) clock() (types.Clock, error) {
	if a.now == "" {
		return types.ClockFunc(time.Now), nil
	}
	t, err := parseInstant(a.now)
	if err != nil {
		return nil, fmt.Errorf("--now: %w", err)
	}
	return types.ClockFunc(func() time.Time { return t }), nil
}

// parseInstant accepts RFC 3339 or Unix seconds.
func parseInstant(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: instant %q is neither RFC 3339 nor Unix seconds", errUsage, s)
	}
	return t.UTC(), nil
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", errUsage, s, err)
	}
	return v, nil
}

func parseUnit(s string) (types.UnitID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unit %q: %v", errUsage, s, err)
	}
	return types.UnitID(v), nil
}

func parseCount(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: count %q must be a positive integer", errUsage, s)
	}
	return v, nil
}

// exactArgs wraps cobra.ExactArgs so argument errors map to exit code 1.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		return nil
	}
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MaximumNArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		return nil
	}
}
