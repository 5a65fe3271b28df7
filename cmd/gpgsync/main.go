// Command gpgsync bidirectionally synchronizes a plaintext directory tree
// with an OpenPGP-encrypted mirror of it, watching both roots and
// reconciling changes (including conflicts) as they occur.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gpgsync-dev/gpgsync/internal/gpgsync"
	"github.com/gpgsync-dev/gpgsync/pkg/logging"
	"github.com/gpgsync-dev/gpgsync/pkg/synchronization/engine"
)

var rootConfiguration struct {
	// version, if true, causes the version to be printed and the command to
	// return without doing anything else.
	version bool
	// logLevel is the name of the logging.Level to run at.
	logLevel string
	// quietTimeout and hardTimeout expose engine.Config's gather-phase
	// timeouts as flags.
	quietTimeout time.Duration
	hardTimeout  time.Duration
}

func rootMain(_ *cobra.Command, arguments []string) error {
	if rootConfiguration.version {
		fmt.Println(gpgsync.Version)
		return nil
	}

	level, ok := logging.NameToLevel(rootConfiguration.logLevel)
	if !ok {
		return fmt.Errorf("invalid log level: %s", rootConfiguration.logLevel)
	}
	gpgsync.DebugEnabled = level >= logging.LevelDebug

	plainRoot, encRoot, passphrase := arguments[0], arguments[1], arguments[2]

	logger := logging.RootLogger.Sublogger("gpgsync")
	logger.Println("starting synchronization between", plainRoot, "and", encRoot)

	eng, err := engine.New(engine.Config{
		PlainRoot:    plainRoot,
		EncRoot:      encRoot,
		Passphrase:   []byte(passphrase),
		Logger:       logger,
		QuietTimeout: rootConfiguration.quietTimeout,
		HardTimeout:  rootConfiguration.hardTimeout,
	})
	if err != nil {
		return fmt.Errorf("unable to start synchronization: %w", err)
	}
	defer eng.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Run(ctx); err != nil {
		return fmt.Errorf("synchronization failed: %w", err)
	}

	logger.Println("terminating gracefully")
	return nil
}

var rootCommand = &cobra.Command{
	Use:   "gpgsync <plain-root> <enc-root> <passphrase>",
	Short: "gpgsync mirrors a plaintext directory tree to an OpenPGP-encrypted one and back",
	Args: func(cmd *cobra.Command, args []string) error {
		if rootConfiguration.version {
			return nil
		}
		return cobra.ExactArgs(3)(cmd, args)
	},
	RunE: rootMain,
}

func init() {
	rootCommand.SilenceUsage = true
	rootCommand.SilenceErrors = true

	var flags *pflag.FlagSet = rootCommand.Flags()
	flags.BoolVarP(&rootConfiguration.version, "version", "V", false, "Show version information")
	flags.StringVar(&rootConfiguration.logLevel, "log-level", "info", "Set the logging level (disabled|error|warn|info|debug|trace); debug and trace enable debug messages, the other levels leave the default output unchanged")
	flags.DurationVar(&rootConfiguration.quietTimeout, "quiet-timeout", 0, "Quiet period to wait for filesystem activity to settle before diffing (0 uses the engine default)")
	flags.DurationVar(&rootConfiguration.hardTimeout, "hard-timeout", 0, "Maximum time to wait for a quiet period before diffing anyway (0 uses the engine default)")
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		notifyFatal(err)
	}
}
