package cli

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/platinummonkey/keepsake/pkg/storage"
)

func newGetCommand() *Command {
	cmd := &Command{
		Name:        "get",
		Description: "Print the JSON value stored under a key",
		Flags:       flag.NewFlagSet("get", flag.ContinueOnError),
		Run:         runGet,
	}

	cmd.Flags.String("default", "", "JSON value printed when the key is absent or unreadable")
	cmd.Flags.Bool("pretty", false, "Indent the output")

	return cmd
}

func runGet(env *Env, args []string) error {
	cmd := newGetCommand()
	if err := parseFlags(env, cmd, args); err != nil {
		return err
	}
	if cmd.Flags.NArg() != 1 {
		return fmt.Errorf("usage: get [-default json] [-pretty] <key>")
	}
	key := cmd.Flags.Arg(0)
	def := cmd.Flags.Lookup("default").Value.String()
	pretty := cmd.Flags.Lookup("pretty").Value.String() == "true"

	if def != "" && !json.Valid([]byte(def)) {
		return fmt.Errorf("default is not valid JSON")
	}

	return withSession(env, func(s *session) error {
		raw, found := s.store.GetRaw(env.Ctx, key)
		if !found {
			if def == "" {
				return fmt.Errorf("key %q not found", key)
			}
			raw = json.RawMessage(def)
		}
		if pretty {
			var buf bytes.Buffer
			if err := json.Indent(&buf, raw, "", "  "); err != nil {
				return err
			}
			raw = buf.Bytes()
		}
		_, err := fmt.Fprintln(env.Out, string(raw))
		return err
	})
}

func newSetCommand() *Command {
	cmd := &Command{
		Name:        "set",
		Description: "Store a JSON value under a key",
		Flags:       flag.NewFlagSet("set", flag.ContinueOnError),
		Run:         runSet,
	}

	cmd.Flags.Bool("raw", false, "Store the value as a JSON string instead of parsing it")
	cmd.Flags.Bool("no-validate", false, "Skip schema validation")

	return cmd
}

func runSet(env *Env, args []string) error {
	cmd := newSetCommand()
	if err := parseFlags(env, cmd, args); err != nil {
		return err
	}
	if cmd.Flags.NArg() != 2 {
		return fmt.Errorf("usage: set [-raw] [-no-validate] <key> <value>")
	}
	key, input := cmd.Flags.Arg(0), cmd.Flags.Arg(1)
	raw := cmd.Flags.Lookup("raw").Value.String() == "true"
	validate := cmd.Flags.Lookup("no-validate").Value.String() != "true"

	var value interface{} = input
	if !raw {
		if !json.Valid([]byte(input)) {
			return fmt.Errorf("value is not valid JSON (use -raw to store a string)")
		}
		value = json.RawMessage(input)
	}

	return withSession(env, func(s *session) error {
		// The write is flushed when the session closes.
		if err := s.store.Set(env.Ctx, key, value, storage.WithValidation(validate)); err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "Stored %s\n", key)
		return nil
	})
}

func newRemoveCommand() *Command {
	return &Command{
		Name:        "rm",
		Description: "Remove a key",
		Flags:       flag.NewFlagSet("rm", flag.ContinueOnError),
		Run:         runRemove,
	}
}

func runRemove(env *Env, args []string) error {
	cmd := newRemoveCommand()
	if err := parseFlags(env, cmd, args); err != nil {
		return err
	}
	if cmd.Flags.NArg() == 0 {
		return fmt.Errorf("usage: rm <key>...")
	}

	return withSession(env, func(s *session) error {
		for _, key := range cmd.Flags.Args() {
			if err := s.store.Remove(env.Ctx, key); err != nil {
				return fmt.Errorf("failed to remove %s: %w", key, err)
			}
			fmt.Fprintf(env.Out, "Removed %s\n", key)
		}
		return nil
	})
}

func newKeysCommand() *Command {
	return &Command{
		Name:        "keys",
		Description: "List stored keys",
		Flags:       flag.NewFlagSet("keys", flag.ContinueOnError),
		Run:         runKeys,
	}
}

func runKeys(env *Env, args []string) error {
	cmd := newKeysCommand()
	if err := parseFlags(env, cmd, args); err != nil {
		return err
	}

	return withSession(env, func(s *session) error {
		keys, err := s.store.AllKeys(env.Ctx)
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Fprintln(env.Out, key)
		}
		return nil
	})
}

func newStatsCommand() *Command {
	return &Command{
		Name:        "stats",
		Description: "Show key counts and storage usage",
		Flags:       flag.NewFlagSet("stats", flag.ContinueOnError),
		Run:         runStats,
	}
}

func runStats(env *Env, args []string) error {
	cmd := newStatsCommand()
	if err := parseFlags(env, cmd, args); err != nil {
		return err
	}

	return withSession(env, func(s *session) error {
		stats, err := s.store.Stats(env.Ctx)
		if err != nil {
			return err
		}
		return printJSON(env.Out, stats)
	})
}

func newCleanupCommand() *Command {
	cmd := &Command{
		Name:        "cleanup",
		Description: "Remove records not written within max-age",
		Flags:       flag.NewFlagSet("cleanup", flag.ContinueOnError),
		Run:         runCleanup,
	}

	cmd.Flags.Duration("max-age", 30*24*time.Hour, "Maximum record age")

	return cmd
}

func runCleanup(env *Env, args []string) error {
	cmd := newCleanupCommand()
	if err := parseFlags(env, cmd, args); err != nil {
		return err
	}
	maxAge := cmd.Flags.Lookup("max-age").Value.(flag.Getter).Get().(time.Duration)
	if maxAge <= 0 {
		return fmt.Errorf("max-age must be positive")
	}

	return withSession(env, func(s *session) error {
		n, err := s.store.Cleanup(env.Ctx, maxAge)
		fmt.Fprintf(env.Out, "Removed %d records\n", n)
		return err
	})
}

func newClearCommand() *Command {
	cmd := &Command{
		Name:        "clear",
		Description: "Delete every key in the namespace (backups are kept)",
		Flags:       flag.NewFlagSet("clear", flag.ContinueOnError),
		Run:         runClear,
	}

	cmd.Flags.Bool("yes", false, "Confirm deletion")

	return cmd
}

func runClear(env *Env, args []string) error {
	cmd := newClearCommand()
	if err := parseFlags(env, cmd, args); err != nil {
		return err
	}
	if cmd.Flags.Lookup("yes").Value.String() != "true" {
		return fmt.Errorf("refusing to clear without -yes")
	}

	return withSession(env, func(s *session) error {
		n, err := s.store.ClearAll(env.Ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "Cleared %d records\n", n)
		return nil
	})
}
