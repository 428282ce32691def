package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"widgetree/internal/diff"
	"widgetree/internal/pack"
	"widgetree/internal/version"
)

var (
	authorFlag  string
	logLimit    int
	diffHTML    bool
	diffColor   bool
	exportOut   string
	trackerAttr []string
)

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Manage version trackers",
}

var trackerCreateCmd = &cobra.Command{
	Use:   "create <root-id>",
	Short: "Track an existing tree",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		root, err := a.node(ctx, args[0])
		if err != nil {
			return err
		}
		t, err := a.versions.Create(ctx, root)
		if err != nil {
			return err
		}
		fmt.Println(t.UID)
		return nil
	}),
}

var trackerNewCmd = &cobra.Command{
	Use:   "new <type>",
	Short: "Create a tree of the given type and track it",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		v, err := a.variant(args[0])
		if err != nil {
			return err
		}
		attrs, err := parseAttrs(trackerAttr)
		if err != nil {
			return err
		}
		t, err := a.versions.CreateFor(ctx, v, attrs)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%d\n", t.UID, t.WorkingCopyID)
		return nil
	}),
}

var trackerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trackers",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		ts, err := a.versions.List(ctx)
		if err != nil {
			return err
		}
		for _, t := range ts {
			head := "-"
			if t.HeadID != nil {
				head = fmt.Sprint(*t.HeadID)
			}
			fmt.Printf("%d\t%s\tworking=%d\thead=%s\n", t.ID, t.UID, t.WorkingCopyID, head)
		}
		return nil
	}),
}

var commitCmd = &cobra.Command{
	Use:   "commit <tracker>",
	Short: "Snapshot the working copy",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		t, err := a.tracker(ctx, args[0])
		if err != nil {
			return err
		}
		c, err := t.Commit(ctx, authorFlag)
		if err != nil {
			return err
		}
		fmt.Printf("%d\t%s\n", c.ID, c.DigestHex()[:16])
		return nil
	}),
}

var logCmd = &cobra.Command{
	Use:   "log <tracker>",
	Short: "Show commit history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		t, err := a.tracker(ctx, args[0])
		if err != nil {
			return err
		}
		history, err := t.HistoryList(ctx)
		if err != nil {
			return err
		}
		for i, c := range history {
			if logLimit > 0 && i >= logLimit {
				break
			}
			author := "-"
			if au, _ := c.Author(ctx); au != nil {
				author = au.Name
			}
			root, err := c.Root(ctx)
			if err != nil {
				return err
			}
			when := time.UnixMilli(c.CreatedAt).Format(time.RFC3339)
			fmt.Printf("%d\t%s\t%s\t%s\troot=%d %s\n", c.ID, c.DigestHex()[:16], when, author, root.ID, root.ContentType)
		}
		return nil
	}),
}

var revertCmd = &cobra.Command{
	Use:   "revert <tracker> <commit-id>",
	Short: "Replace the working copy with a copy of a commit",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		t, err := a.tracker(ctx, args[0])
		if err != nil {
			return err
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		c, err := a.versions.GetCommit(ctx, id)
		if err != nil {
			return err
		}
		if err := t.RevertTo(ctx, c); err != nil {
			return err
		}
		fmt.Println(t.WorkingCopyID)
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status <tracker>",
	Short: "Report whether the working copy differs from head",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		t, err := a.tracker(ctx, args[0])
		if err != nil {
			return err
		}
		changed, err := t.HasChanges(ctx)
		if err != nil {
			return err
		}
		if changed {
			fmt.Println("modified")
		} else {
			fmt.Println("clean")
		}
		return nil
	}),
}

var referrerCmd = &cobra.Command{
	Use:   "referrer",
	Short: "Manage back-references to trackers",
}

var referrerRegisterCmd = &cobra.Command{
	Use:   "register <kind> <field>",
	Short: "Declare a field that refers to trackers",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		return a.versions.RegisterReferrer(ctx, args[0], args[1])
	}),
}

var referrerLinkCmd = &cobra.Command{
	Use:   "link <kind> <field> <referrer-id> <tracker>",
	Short: "Point a referrer field at a tracker",
	Args:  cobra.ExactArgs(4),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		id, err := parseID(args[2])
		if err != nil {
			return err
		}
		t, err := a.tracker(ctx, args[3])
		if err != nil {
			return err
		}
		return a.versions.Link(ctx, args[0], args[1], id, t)
	}),
}

var referrerDeleteCmd = &cobra.Command{
	Use:   "delete <kind> <referrer-id>",
	Short: "Drop every link held by a referrer",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		return a.versions.DeleteReferrer(ctx, args[0], id)
	}),
}

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List trackers nothing refers to any more",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		ts, err := a.versions.Orphans(ctx)
		if err != nil {
			return err
		}
		for _, t := range ts {
			fmt.Printf("%d\t%s\n", t.ID, t.UID)
		}
		return nil
	}),
}

var diffCmd = &cobra.Command{
	Use:   "diff <commit-a> <commit-b>",
	Short: "Compare the trees of two commits",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		var commits [2]*version.Commit
		for i, arg := range args {
			id, err := parseID(arg)
			if err != nil {
				return err
			}
			if commits[i], err = a.versions.GetCommit(ctx, id); err != nil {
				return err
			}
		}
		var d diff.Differ = diff.Lines{Color: diffColor}
		if diffHTML {
			d = diff.HTML{}
		}
		out, err := a.versions.DiffCommits(ctx, commits[0], commits[1], d)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}),
}

var exportCmd = &cobra.Command{
	Use:   "export <tracker>",
	Short: "Write the commit history as a compressed pack",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		t, err := a.tracker(ctx, args[0])
		if err != nil {
			return err
		}
		out := exportOut
		if out == "" {
			out = t.UID + ".pack"
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("creating %s: %w", out, err)
		}
		n, err := pack.ExportHistory(ctx, a.versions, t, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d commits to %s\n", n, out)
		return nil
	}),
}

var verifyCmd = &cobra.Command{
	Use:   "verify <pack-file>",
	Short: "Check a history pack and list its commits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		label, records, err := pack.ReadHistory(f)
		if err != nil {
			return err
		}
		fmt.Printf("tracker %s: %d commits\n", label, len(records))
		for _, r := range records {
			fmt.Printf("%s\t%s\t%s\n", r.Digest[:16], r.Tree.Type, r.Author)
		}
		return nil
	},
}

func addVersionCommands(root *cobra.Command) {
	trackerNewCmd.Flags().StringArrayVarP(&trackerAttr, "attr", "a", nil, "Attribute as key=value (repeatable)")
	commitCmd.Flags().StringVar(&authorFlag, "author", os.Getenv("USER"), "Commit author")
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 0, "Number of entries to show (0 for all)")
	diffCmd.Flags().BoolVar(&diffHTML, "html", false, "Inline <ins>/<del> markup instead of line diff")
	diffCmd.Flags().BoolVar(&diffColor, "color", false, "Colorize line diff")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Output file (default <uid>.pack)")

	trackerCmd.AddCommand(trackerCreateCmd, trackerNewCmd, trackerListCmd)
	referrerCmd.AddCommand(referrerRegisterCmd, referrerLinkCmd, referrerDeleteCmd)
	root.AddCommand(trackerCmd, commitCmd, logCmd, revertCmd, statusCmd, referrerCmd, orphansCmd, diffCmd, exportCmd, verifyCmd)
}
