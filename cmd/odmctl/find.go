package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/driver"
	"github.com/goliatone/go-odm/query"
)

func optionalArg(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return ""
}

func (a *app) query(collection, criteriaArg string) (*query.Query, error) {
	crit, err := parseCriteria(criteriaArg)
	if err != nil {
		return nil, err
	}
	q := query.New(a.collection(collection),
		query.WithLogger(a.container.Logger().Component("odmctl")),
	)
	return q.Where(crit), nil
}

func newFindCmd(a *app) *cobra.Command {
	var (
		sortSpec string
		limit    int
		skip     int
		fields   []string
		first    bool
	)

	cmd := &cobra.Command{
		Use:   "find <collection> [criteria]",
		Short: "Print the documents matching criteria",
		Example: `  odmctl find users
  odmctl find users '{"f": "ann"}'
  odmctl find users '{"a": {"$gte": 21}}' --sort "a desc" --limit 10 -o yaml`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.query(args[0], optionalArg(args, 1))
			if err != nil {
				return err
			}
			if sortSpec != "" {
				q = q.Sort(sortSpec)
			}
			if limit > 0 {
				q = q.Limit(limit)
			}
			if skip > 0 {
				q = q.Skip(skip)
			}
			if len(fields) > 0 {
				q = q.Fields(fields...)
			}

			if first {
				doc, err := q.First(cmd.Context())
				if err != nil {
					return err
				}
				if doc == nil {
					return fmt.Errorf("no document in %s matches", args[0])
				}
				return write(cmd.OutOrStdout(), a.format, doc)
			}

			docs, err := q.All(cmd.Context())
			if err != nil {
				return err
			}
			if docs == nil {
				docs = []driver.Doc{}
			}
			return write(cmd.OutOrStdout(), a.format, docs)
		},
	}

	cmd.Flags().StringVar(&sortSpec, "sort", "", `sort spec, e.g. "a desc, f"`)
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of documents")
	cmd.Flags().IntVar(&skip, "skip", 0, "number of documents to skip")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "fields to return")
	cmd.Flags().BoolVar(&first, "first", false, "print only the first match")
	return cmd
}

func newCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count <collection> [criteria]",
		Short: "Count the documents matching criteria",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.query(args[0], optionalArg(args, 1))
			if err != nil {
				return err
			}
			n, err := q.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func newRemoveCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "remove <collection> [criteria]",
		Short: "Remove the documents matching criteria",
		Long: `Remove deletes every document matching criteria. Empty criteria are
refused unless --all is given.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			crit := optionalArg(args, 1)
			parsed, err := parseCriteria(crit)
			if err != nil {
				return err
			}
			if len(parsed) == 0 && !all {
				return fmt.Errorf("refusing to remove every document of %s without --all", args[0])
			}

			q, err := a.query(args[0], crit)
			if err != nil {
				return err
			}
			n, err := q.DeleteAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "allow empty criteria")
	return cmd
}

func newLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load <collection> <file.json>",
		Short: "Insert the documents of an extended JSON array",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var docs []bson.M
			if err := bson.UnmarshalJSON(data, &docs); err != nil {
				return fmt.Errorf("parse %s: %w", args[1], err)
			}

			coll := a.collection(args[0])
			for i, doc := range docs {
				if _, err := coll.Insert(cmd.Context(), doc); err != nil {
					return fmt.Errorf("document %d: %w", i, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d\n", len(docs))
			return nil
		},
	}
}
