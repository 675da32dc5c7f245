package cli

import (
	"flag"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"
)

func newBackupCommand() *Command {
	return &Command{
		Name:        "backup",
		Description: "Snapshot every key into a new backup",
		Flags:       flag.NewFlagSet("backup", flag.ContinueOnError),
		Run:         runBackup,
	}
}

func runBackup(env *Env, args []string) error {
	cmd := newBackupCommand()
	if err := parseFlags(env, cmd, args); err != nil {
		return err
	}

	return withSession(env, func(s *session) error {
		id, err := s.migrations.CreateBackup(env.Ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(env.Out, id)
		return nil
	})
}

func newRestoreCommand() *Command {
	return &Command{
		Name:        "restore",
		Description: "Replace all keys with the contents of a backup",
		Flags:       flag.NewFlagSet("restore", flag.ContinueOnError),
		Run:         runRestore,
	}
}

func runRestore(env *Env, args []string) error {
	cmd := newRestoreCommand()
	if err := parseFlags(env, cmd, args); err != nil {
		return err
	}
	if cmd.Flags.NArg() != 1 {
		return fmt.Errorf("usage: restore <backup-id>")
	}
	id := cmd.Flags.Arg(0)

	return withSession(env, func(s *session) error {
		if err := s.migrations.RestoreBackup(env.Ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "Restored %s\n", id)
		return nil
	})
}

func newBackupsCommand() *Command {
	return &Command{
		Name:        "backups",
		Description: "List backups, newest first",
		Flags:       flag.NewFlagSet("backups", flag.ContinueOnError),
		Run:         runBackups,
	}
}

func runBackups(env *Env, args []string) error {
	cmd := newBackupsCommand()
	if err := parseFlags(env, cmd, args); err != nil {
		return err
	}

	return withSession(env, func(s *session) error {
		infos, err := s.migrations.ListBackups(env.Ctx)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Fprintln(env.Out, "No backups")
			return nil
		}

		w := tabwriter.NewWriter(env.Out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tVERSION\tCREATED\tKEYS\tSIZE")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
				info.ID, info.Version, info.Timestamp.Format(time.RFC3339), info.Keys, info.SizeBytes)
		}
		return w.Flush()
	})
}

func newDeleteBackupCommand() *Command {
	return &Command{
		Name:        "delete-backup",
		Description: "Delete a backup",
		Flags:       flag.NewFlagSet("delete-backup", flag.ContinueOnError),
		Run:         runDeleteBackup,
	}
}

func runDeleteBackup(env *Env, args []string) error {
	cmd := newDeleteBackupCommand()
	if err := parseFlags(env, cmd, args); err != nil {
		return err
	}
	if cmd.Flags.NArg() != 1 {
		return fmt.Errorf("usage: delete-backup <backup-id>")
	}
	id := cmd.Flags.Arg(0)

	return withSession(env, func(s *session) error {
		if err := s.migrations.DeleteBackup(env.Ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "Deleted %s\n", id)
		return nil
	})
}

func newPruneBackupsCommand() *Command {
	cmd := &Command{
		Name:        "prune-backups",
		Description: "Keep only the most recent backups",
		Flags:       flag.NewFlagSet("prune-backups", flag.ContinueOnError),
		Run:         runPruneBackups,
	}

	cmd.Flags.Int("keep", 0, "Number of backups to keep (default: maintenance retain_backups)")

	return cmd
}

func runPruneBackups(env *Env, args []string) error {
	cmd := newPruneBackupsCommand()
	if err := parseFlags(env, cmd, args); err != nil {
		return err
	}
	keep, err := strconv.Atoi(cmd.Flags.Lookup("keep").Value.String())
	if err != nil || keep < 0 {
		return fmt.Errorf("keep must be a non-negative integer")
	}

	return withSession(env, func(s *session) error {
		if keep == 0 {
			keep = s.cfg.Maintenance.RetainBackups
		}
		n, err := s.migrations.CleanupOldBackups(env.Ctx, keep)
		fmt.Fprintf(env.Out, "Deleted %d backups\n", n)
		return err
	})
}
