package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"dogechat/server/internal/store"

	"github.com/spf13/pflag"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string, out io.Writer) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}

	switch args[0] {
	case "version":
		fmt.Fprintf(out, "dogechat server %s\n", Version)
		return true, nil
	case "audit":
		return true, cliAudit(args[1:], dbPath, out)
	default:
		return false, nil
	}
}

// cliAudit prints the newest moderation audit entries.
func cliAudit(args []string, dbPath string, out io.Writer) error {
	flagSet := pflag.NewFlagSet("audit", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	room := flagSet.String("room", "", "only show entries for this room")
	limit := flagSet.Int("limit", 50, "maximum number of entries")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if dbPath == "" {
		return errors.New("audit log is not configured: set AUDIT_DB or --audit-db")
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entries, err := st.ListAudit(ctx, *room, *limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No audit entries found.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tROOM\tACTOR\tACTION\tTARGET\tAFFECTED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			e.CreatedAt.Format(time.RFC3339), e.Room, e.Actor, e.Action, e.Target, e.Affected)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	total, err := st.AuditCount(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d of %d entries shown\n", len(entries), total)
	return nil
}
