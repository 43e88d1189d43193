package cmd

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"

	"github.com/josephlewis42/pipesh/commands"
	"github.com/josephlewis42/pipesh/core/config"
	"github.com/josephlewis42/pipesh/core/env"
	"github.com/josephlewis42/pipesh/core/jobs"
	"github.com/josephlewis42/pipesh/core/logger"
	"github.com/josephlewis42/pipesh/core/tty"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

var (
	cfgPath  string
	command  string
	verbose  bool
	exitCode int
)

func loadConfig() (*config.Configuration, error) {
	configuration, err := config.Load(cfgPath)

	if errors.Is(err, fs.ErrNotExist) {
		log.Println("Couldn't load config: did you run init?")
	}

	return configuration, err
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pipesh",
	Short: "A small job control shell",
	Long: `pipesh runs pipelines of programs with input and output redirection
and background jobs. Without -c it reads commands from standard input.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		logDest := io.Discard
		if verbose {
			logDest = cmd.ErrOrStderr()
		}
		shellLog := log.New(logDest, "[pipesh] ", 0)

		configuration, err := loadConfig()
		if err != nil {
			return err
		}

		events := logger.Discard().Sessionless()
		if configuration.EventLog {
			fd, err := configuration.OpenEventLog()
			if err != nil {
				return err
			}
			defer fd.Close()
			events = logger.NewJsonLinesLogRecorder(fd).NewSession()
			shellLog.Printf("session %s", events.SessionID())
		}

		terminal := tty.New(shellLog)
		if command == "" {
			if terminal, err = tty.Open(os.Stdin, shellLog); err != nil {
				return err
			}
		}
		terminal.Install()
		defer terminal.Close()

		shellEnv := env.NewMapEnvFromEnvList(os.Environ())
		shellEnv.SetDefault(commands.EnvPath, configuration.DefaultPath)

		ctl := jobs.NewController(jobs.Options{
			Env:               shellEnv,
			Terminal:          terminal,
			Stdin:             os.Stdin,
			Stdout:            os.Stdout,
			Stderr:            os.Stderr,
			LegacyInputCreate: configuration.LegacyInputCreate,
			Log:               shellLog,
			Events:            events,
		})

		ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGTERM, unix.SIGHUP)
		defer cancel()
		go ctl.Reap(ctx, terminal.ChildExited())

		sh := commands.NewShell(ctl, shellEnv)
		sh.Prompt = configuration.Prompt
		sh.Color = &commands.ColorPrinter{
			Mode: configuration.Color,
			IsTerminal: func() bool {
				return term.IsTerminal(int(os.Stdout.Fd()))
			},
		}
		sh.Interrupts = terminal.Interrupts()
		sh.Log = shellLog
		sh.Events = events

		if command != "" {
			exitCode = sh.RunCommand(ctx, command)
			return nil
		}

		lines, err := commands.NewLineReader(os.Stdin, cmd.OutOrStdout(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer lines.Close()

		exitCode = sh.RunInteractive(ctx, lines)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
	os.Exit(exitCode)
}

func init() {
	defaultDir := "."
	if home, err := os.UserHomeDir(); err == nil {
		defaultDir = config.DefaultDir(home)
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultDir, "config path")
	rootCmd.Flags().StringVarP(&command, "command", "c", "", "run a single command line and exit")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log job control diagnostics to stderr")
}
