package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spilltree/spilltree/memberstore"
	"github.com/spilltree/spilltree/membertree"

	cli "github.com/urfave/cli/v2"
	"github.com/xlab/treeprint"
)

var registerCmd = &cli.Command{
	Name:      "register",
	Usage:     "place one member into the tree",
	ArgsUsage: "<member-code>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "name",
			Usage:    "display name",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "email",
			Usage:    "email address, unique across members",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "sponsor",
			Usage: "sponsor member code (omit only for the first member)",
		},
		&cli.StringFlag{
			Name:  "position",
			Usage: "preferred slot under the sponsor: left or right",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		if cctx.Args().Len() != 1 {
			return fmt.Errorf("expected a single member code argument")
		}
		engine, store, err := openEngine(ctx, cctx, adminLogger(cctx))
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := engine.PlaceMember(ctx, membertree.Registration{
			Code:              cctx.Args().First(),
			Name:              cctx.String("name"),
			Email:             cctx.String("email"),
			SponsorCode:       cctx.String("sponsor"),
			PreferredPosition: membertree.Position(cctx.String("position")),
		})
		if err != nil {
			return err
		}
		return printJSON(p)
	},
}

var validateCmd = &cli.Command{
	Name:      "validate",
	Usage:     "check a sponsor code and report its free slots",
	ArgsUsage: "<sponsor-code>",
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		engine, store, err := openEngine(ctx, cctx, adminLogger(cctx))
		if err != nil {
			return err
		}
		defer store.Close()

		status, err := engine.ValidateSponsor(ctx, cctx.Args().First())
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

var downlineCmd = &cli.Command{
	Name:      "downline",
	Usage:     "show the subtree below a member",
	ArgsUsage: "<member-code>",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "depth",
			Usage: "levels below the member to include (0 for all)",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print the nested JSON view instead of a tree",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		engine, store, err := openEngine(ctx, cctx, adminLogger(cctx))
		if err != nil {
			return err
		}
		defer store.Close()

		view, err := engine.GetDownlineDepth(ctx, cctx.Args().First(), cctx.Int("depth"))
		if err != nil {
			return err
		}
		if cctx.Bool("json") {
			return printJSON(view)
		}
		fmt.Print(renderDownline(view).String())
		return nil
	},
}

func displayNode(n *membertree.DownlineNode) string {
	return fmt.Sprintf("%s (%s) L:%d R:%d", n.Code, n.Name, n.LeftCount, n.RightCount)
}

// renderDownline builds the printable tree without recursion so very deep chains are fine.
func renderDownline(root *membertree.DownlineNode) treeprint.Tree {
	tree := treeprint.NewWithRoot(displayNode(root))

	type frame struct {
		node   *membertree.DownlineNode
		branch treeprint.Tree
	}
	stack := []frame{{node: root, branch: tree}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		// left is pushed last so it is expanded first
		var next []frame
		for _, slot := range []struct {
			label string
			child *membertree.DownlineNode
		}{{"left", f.node.Left}, {"right", f.node.Right}} {
			if slot.child == nil {
				f.branch.AddNode(slot.label + ": -")
				continue
			}
			b := f.branch.AddBranch(slot.label + ": " + displayNode(slot.child))
			next = append(next, frame{node: slot.child, branch: b})
		}
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}
	return tree
}

var memberCmd = &cli.Command{
	Name:      "member",
	Usage:     "show the stored record of one member",
	ArgsUsage: "<member-code>",
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		engine, store, err := openEngine(ctx, cctx, adminLogger(cctx))
		if err != nil {
			return err
		}
		defer store.Close()

		m, err := engine.GetMember(ctx, cctx.Args().First())
		if err != nil {
			return err
		}
		return printJSON(m)
	},
}

var statsCmd = &cli.Command{
	Name:      "stats",
	Usage:     "show left and right counts for a member",
	ArgsUsage: "<member-code>",
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		engine, store, err := openEngine(ctx, cctx, adminLogger(cctx))
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := engine.GetStats(ctx, cctx.Args().First())
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var verifyCmd = &cli.Command{
	Name:  "verify",
	Usage: "check the stored tree for structural and count inconsistencies",
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		logger := adminLogger(cctx)
		engine, store, err := openEngine(ctx, cctx, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := engine.Verify(ctx)
		if err != nil {
			return err
		}
		logger.Info("member tree is consistent", "members", n)
		return nil
	},
}

var importCmd = &cli.Command{
	Name:      "import",
	Usage:     "load a members.json export into an empty store",
	ArgsUsage: "<members.json>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "recount",
			Usage: "rebuild left/right counts from the child links before checking the file",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		logger := adminLogger(cctx)
		if cctx.Args().Len() != 1 {
			return fmt.Errorf("expected path to a members.json file")
		}
		f, err := os.Open(cctx.Args().First())
		if err != nil {
			return err
		}
		defer f.Close()

		members, err := memberstore.ReadLegacyJSON(f)
		if err != nil {
			return err
		}
		if cctx.Bool("recount") {
			changed, err := membertree.Recount(members)
			if err != nil {
				return err
			}
			logger.Info("recounted member subtrees", "members", len(members), "corrected", changed)
		}

		engine, store, err := openEngine(ctx, cctx, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		return engine.Import(ctx, members)
	},
}

var exportCmd = &cli.Command{
	Name:  "export",
	Usage: "write every stored member as members.json to stdout",
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		store, err := memberstore.Open(ctx, cctx.String("store-url"), memberstore.Options{
			Logger:         adminLogger(cctx),
			MaxConnections: cctx.Int("max-db-connections"),
			RedisPrefix:    cctx.String("redis-prefix"),
		})
		if err != nil {
			return err
		}
		defer store.Close()

		members, _, err := store.Snapshot(ctx)
		if err != nil {
			return err
		}
		return memberstore.WriteLegacyJSON(os.Stdout, members)
	},
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
