package cli

import (
	"flag"
	"fmt"
)

func newMigrateCommand() *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Bring stored data up to the configured version",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
		Run:         runMigrate,
	}

	cmd.Flags.Bool("backup", true, "Create a backup before migrating existing data")
	cmd.Flags.Bool("dry-run", false, "Only report the stored and target versions")

	return cmd
}

func runMigrate(env *Env, args []string) error {
	cmd := newMigrateCommand()
	if err := parseFlags(env, cmd, args); err != nil {
		return err
	}
	backup := cmd.Flags.Lookup("backup").Value.String() == "true"
	dryRun := cmd.Flags.Lookup("dry-run").Value.String() == "true"

	return withSession(env, func(s *session) error {
		if dryRun {
			stored, found := s.migrations.StoredVersion(env.Ctx)
			if !found {
				stored += " (not set)"
			}
			fmt.Fprintf(env.Out, "Stored version: %s\nTarget version: %s\n", stored, s.cfg.Migration.TargetVersion)
			return nil
		}

		res, backupID, err := s.migrateWithBackup(env.Ctx, backup)
		if backupID != "" {
			fmt.Fprintf(env.Out, "Backup: %s\n", backupID)
		}
		if err != nil {
			return err
		}
		if !res.Migrated {
			fmt.Fprintf(env.Out, "Up to date at %s\n", res.ToVersion)
			return nil
		}
		fmt.Fprintf(env.Out, "Migrated %s -> %s (%d migrations)\n", res.FromVersion, res.ToVersion, res.MigratedItemCount)
		return nil
	})
}

func newRepairCommand() *Command {
	return &Command{
		Name:        "repair",
		Description: "Remove records that are unreadable or fail their schema",
		Flags:       flag.NewFlagSet("repair", flag.ContinueOnError),
		Run:         runRepair,
	}
}

func runRepair(env *Env, args []string) error {
	cmd := newRepairCommand()
	if err := parseFlags(env, cmd, args); err != nil {
		return err
	}

	return withSession(env, func(s *session) error {
		report, err := s.migrations.ValidateAndRepair(env.Ctx)
		if err != nil {
			return err
		}
		for _, issue := range report.Issues {
			status := "removed"
			if !issue.Repaired {
				status = "not repaired"
			}
			fmt.Fprintf(env.Out, "%s: %s (%s)\n", issue.Key, issue.Reason, status)
		}
		fmt.Fprintf(env.Out, "Found %d issues, repaired %d\n", report.IssuesFound, report.RepairsApplied)
		return nil
	})
}
