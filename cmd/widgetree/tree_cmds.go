package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"widgetree/internal/site"
	"widgetree/internal/tree"
)

var (
	attrFlags  []string
	posFlag    string
	parentFlag int64
	rightFlag  int64
	showJSON   bool
	forceInit  bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and a default site rules file",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		fmt.Printf("Initialized database at %s\n", a.db.Path())
		if a.cfg.SitePath == "" {
			return nil
		}
		if _, err := os.Stat(a.cfg.SitePath); err == nil && !forceInit {
			return nil
		}
		if err := defaultRules().Save(a.cfg.SitePath); err != nil {
			return err
		}
		fmt.Printf("Wrote site rules to %s\n", a.cfg.SitePath)
		return nil
	}),
}

func defaultRules() *site.Rules {
	return site.NewRules(site.Config{
		Roots: site.PatternList{Allow: []string{"*"}},
		Children: []site.ChildRule{
			{Parent: "*", PatternList: site.PatternList{Deny: []string{"cant_go_anywhere"}}},
		},
	})
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List registered widget types",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		for _, k := range a.engine.Registry().Keys() {
			fmt.Println(k)
		}
		return nil
	}),
}

var addRootCmd = &cobra.Command{
	Use:   "add-root <type>",
	Short: "Create a new tree",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		v, err := a.variant(args[0])
		if err != nil {
			return err
		}
		attrs, err := parseAttrs(attrFlags)
		if err != nil {
			return err
		}
		n, err := a.engine.AddRoot(ctx, v, attrs)
		if err != nil {
			return err
		}
		fmt.Println(n.ID)
		return nil
	}),
}

var addChildCmd = &cobra.Command{
	Use:   "add-child <parent-id> <type>",
	Short: "Append a widget under a node",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		parent, err := a.node(ctx, args[0])
		if err != nil {
			return err
		}
		v, err := a.variant(args[1])
		if err != nil {
			return err
		}
		attrs, err := parseAttrs(attrFlags)
		if err != nil {
			return err
		}
		n, err := a.engine.AddChild(ctx, parent, v, attrs)
		if err != nil {
			return err
		}
		fmt.Println(n.ID)
		return nil
	}),
}

var addSiblingCmd = &cobra.Command{
	Use:   "add-sibling <node-id> <type>",
	Short: "Add a widget next to a node",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		node, err := a.node(ctx, args[0])
		if err != nil {
			return err
		}
		v, err := a.variant(args[1])
		if err != nil {
			return err
		}
		attrs, err := parseAttrs(attrFlags)
		if err != nil {
			return err
		}
		pos, err := parsePosition(posFlag)
		if err != nil {
			return err
		}
		n, err := a.engine.AddSibling(ctx, node, v, attrs, pos)
		if err != nil {
			return err
		}
		fmt.Println(n.ID)
		return nil
	}),
}

func parsePosition(s string) (tree.Position, error) {
	switch s {
	case "left":
		return tree.Left, nil
	case "right", "":
		return tree.Right, nil
	case "first":
		return tree.FirstSibling, nil
	case "last":
		return tree.LastSibling, nil
	}
	return 0, fmt.Errorf("invalid position %q (left, right, first, last)", s)
}

var moveCmd = &cobra.Command{
	Use:   "move <node-id>",
	Short: "Reposition a widget before --right or at the end of --parent",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		node, err := a.node(ctx, args[0])
		if err != nil {
			return err
		}
		var parent, right *tree.Node
		if parentFlag != 0 {
			if parent, err = a.engine.GetNode(ctx, parentFlag); err != nil {
				return err
			}
		}
		if rightFlag != 0 {
			if right, err = a.engine.GetNode(ctx, rightFlag); err != nil {
				return err
			}
		}
		return a.engine.Reposition(ctx, node, parent, right)
	}),
}

var deleteCmd = &cobra.Command{
	Use:   "delete <node-id>",
	Short: "Delete a widget and everything below it",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		node, err := a.node(ctx, args[0])
		if err != nil {
			return err
		}
		return a.engine.Delete(ctx, node)
	}),
}

var updateCmd = &cobra.Command{
	Use:   "update <node-id>",
	Short: "Change widget attributes",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		node, err := a.node(ctx, args[0])
		if err != nil {
			return err
		}
		attrs, err := parseAttrs(attrFlags)
		if err != nil {
			return err
		}
		_, err = a.engine.UpdateContent(ctx, node, attrs)
		return err
	}),
}

var showCmd = &cobra.Command{
	Use:   "show [node-id]",
	Short: "Print a tree, or list roots when no node is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if len(args) == 0 {
			roots, err := a.engine.Roots(ctx)
			if err != nil {
				return err
			}
			for _, r := range roots {
				frozen := ""
				if r.IsFrozen {
					frozen = " (frozen)"
				}
				fmt.Printf("%d\t%s%s\n", r.ID, r.ContentType, frozen)
			}
			return nil
		}
		node, err := a.node(ctx, args[0])
		if err != nil {
			return err
		}
		if _, err := a.engine.PrefetchTree(ctx, node); err != nil {
			return err
		}
		if showJSON {
			doc, err := a.engine.ToJSON(ctx, node)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		}
		out, err := a.engine.Markup(ctx, node)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}),
}

var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Manage entities widgets may reference",
}

var entityCreateCmd = &cobra.Command{
	Use:   "create <kind> [label]",
	Short: "Create an entity",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		label := ""
		if len(args) > 1 {
			label = args[1]
		}
		e, err := a.engine.CreateEntity(ctx, args[0], label)
		if err != nil {
			return err
		}
		fmt.Println(e.ID)
		return nil
	}),
}

var entityDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an entity unless a committed widget refers to it",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return a.engine.DeleteEntity(ctx, id)
	}),
}

func addTreeCommands(root *cobra.Command) {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing site rules file")
	for _, c := range []*cobra.Command{addRootCmd, addChildCmd, addSiblingCmd, updateCmd} {
		c.Flags().StringArrayVarP(&attrFlags, "attr", "a", nil, "Attribute as key=value (repeatable)")
	}
	addSiblingCmd.Flags().StringVar(&posFlag, "pos", "right", "Position: left, right, first, last")
	moveCmd.Flags().Int64Var(&parentFlag, "parent", 0, "Destination parent node")
	moveCmd.Flags().Int64Var(&rightFlag, "right", 0, "Node to place the widget before")
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output as JSON")

	entityCmd.AddCommand(entityCreateCmd, entityDeleteCmd)
	root.AddCommand(initCmd, typesCmd, addRootCmd, addChildCmd, addSiblingCmd, moveCmd, deleteCmd, updateCmd, showCmd, entityCmd)
}
