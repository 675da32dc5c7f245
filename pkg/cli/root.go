package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keepsake/pkg/config"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(env *Env, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// Env carries what every command needs from the process
type Env struct {
	Ctx        context.Context
	Out        io.Writer
	Err        io.Writer
	ConfigFile string

	// LoadConfig reads the configuration; config.Load by default
	LoadConfig func(path string) (*config.Config, error)

	// Logger overrides the logger built from the configuration
	Logger *logrus.Logger
}

// DefaultEnv returns an Env bound to the process's stdio
func DefaultEnv() *Env {
	return &Env{
		Ctx:        context.Background(),
		Out:        os.Stdout,
		Err:        os.Stderr,
		ConfigFile: os.Getenv(config.EnvConfigFile),
		LoadConfig: config.Load,
	}
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "keepsake",
		Description: "Keepsake - local persistent key-value store",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("keepsake", flag.ContinueOnError),
	}
	root.Flags.String("config", "", "Path to a YAML config file (overrides $KEEPSAKE_CONFIG)")

	// Records
	root.add(newGetCommand())
	root.add(newSetCommand())
	root.add(newRemoveCommand())
	root.add(newKeysCommand())
	root.add(newStatsCommand())
	root.add(newCleanupCommand())
	root.add(newClearCommand())

	// Migrations and backups
	root.add(newMigrateCommand())
	root.add(newRepairCommand())
	root.add(newBackupCommand())
	root.add(newRestoreCommand())
	root.add(newBackupsCommand())
	root.add(newDeleteBackupCommand())
	root.add(newPruneBackupsCommand())

	root.add(newDaemonCommand())

	return root
}

func (c *Command) add(sub *Command) {
	c.Subcommands[sub.Name] = sub
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.ExecuteArgs(DefaultEnv(), os.Args[1:])
}

// ExecuteArgs parses global flags from args and dispatches to a subcommand
func (c *Command) ExecuteArgs(env *Env, args []string) error {
	c.Flags.SetOutput(env.Err)
	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return c.usage(env.Out)
		}
		return err
	}
	if path := c.Flags.Lookup("config").Value.String(); path != "" {
		env.ConfigFile = path
	}

	args = c.Flags.Args()
	if len(args) == 0 || args[0] == "help" {
		return c.usage(env.Out)
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(env, args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage(w io.Writer) error {
	fmt.Fprintf(w, "Usage: %s [-config file] <command> [args]\n\n", c.Name)
	fmt.Fprintf(w, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// parseFlags parses a subcommand's flags, reporting errors on env.Err
func parseFlags(env *Env, cmd *Command, args []string) error {
	cmd.Flags.SetOutput(env.Err)
	return cmd.Flags.Parse(args)
}
