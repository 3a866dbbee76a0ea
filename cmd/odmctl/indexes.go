package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-odm/driver"
)

type indexView struct {
	Name   string         `json:"name"`
	Keys   []indexKeyView `json:"keys"`
	Unique bool           `json:"unique,omitempty"`
	Sparse bool           `json:"sparse,omitempty"`
}

type indexKeyView struct {
	Key       string `json:"key"`
	Direction int    `json:"direction"`
}

func newIndexesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "List, create and drop collection indexes",
	}
	cmd.AddCommand(newIndexesListCmd(a), newIndexesCreateCmd(a), newIndexesDropCmd(a))
	return cmd
}

func newIndexesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "List the indexes of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := a.collection(args[0]).Indexes(cmd.Context())
			if err != nil {
				return err
			}
			views := make([]indexView, 0, len(infos))
			for _, info := range infos {
				v := indexView{Name: info.Name, Unique: info.Unique, Sparse: info.Sparse}
				for _, k := range info.Spec.Keys {
					v.Keys = append(v.Keys, indexKeyView{Key: k.Key, Direction: k.Direction})
				}
				views = append(views, v)
			}
			return write(cmd.OutOrStdout(), a.format, views)
		},
	}
}

// parseIndexKey reads "field" or "field:-1".
func parseIndexKey(s string) (driver.SortKey, error) {
	key, dir, found := strings.Cut(s, ":")
	if key == "" {
		return driver.SortKey{}, fmt.Errorf("invalid index key %q", s)
	}
	if !found {
		return driver.SortKey{Key: key, Direction: 1}, nil
	}
	d, err := strconv.Atoi(dir)
	if err != nil || (d != 1 && d != -1) {
		return driver.SortKey{}, fmt.Errorf("invalid index direction in %q", s)
	}
	return driver.SortKey{Key: key, Direction: d}, nil
}

func newIndexesCreateCmd(a *app) *cobra.Command {
	var opts driver.IndexOptions

	cmd := &cobra.Command{
		Use:     "create <collection> <key[:dir]>...",
		Short:   "Create an index",
		Example: `  odmctl indexes create users email --unique
  odmctl indexes create users a:-1 f`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var spec driver.IndexSpec
			for _, raw := range args[1:] {
				k, err := parseIndexKey(raw)
				if err != nil {
					return err
				}
				spec.Keys = append(spec.Keys, k)
			}
			if err := a.collection(args[0]).CreateIndex(cmd.Context(), spec, opts); err != nil {
				return err
			}
			name := opts.Name
			if name == "" {
				name = driver.IndexName(spec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "index name (default derived from the keys)")
	cmd.Flags().BoolVar(&opts.Unique, "unique", false, "reject duplicate values")
	cmd.Flags().BoolVar(&opts.Sparse, "sparse", false, "skip documents missing the keys")
	return cmd
}

func newIndexesDropCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "drop <collection> [name]",
		Short: "Drop one index, or every index but _id with --all",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coll := a.collection(args[0])
			switch {
			case all:
				if err := coll.DropIndexes(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "dropped all")
			case len(args) == 2:
				if err := coll.DropIndex(cmd.Context(), args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", args[1])
			default:
				return fmt.Errorf("name an index or pass --all")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "drop every index except _id")
	return cmd
}
