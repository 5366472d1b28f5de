package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/kvstore/internal/kvdb"
)

// cliOwner names the pool owner of a one-shot command.
func cliOwner(name string) kvdb.Owner {
	return kvdb.Owner("cli-" + name + "-" + string(kvdb.NewOwner()))
}

// withDatabase opens the database, runs fn and closes it again.
// Mutating commands also connect the change feed and telemetry so
// their commits are published like the server's.
func withDatabase(ctx context.Context, a *app, mutating bool, fn func(db *kvdb.Database) error) (err error) {
	var observers []kvdb.Observer
	if mutating {
		s, err := connectSinks(ctx, a.cfg, a.log)
		if err != nil {
			return err
		}
		defer s.Close()
		observers = s.Observers()
	}

	db, err := openDatabase(ctx, a, observers)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing database: %w", closeErr)
		}
	}()

	return fn(db)
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the value stored under KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withDatabase(ctx, a, false, func(db *kvdb.Database) error {
				return db.Do(ctx, cliOwner("get"), func(c *kvdb.Connection) error {
					value, err := c.Get(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), string(value))
					return nil
				})
			})
		},
	}
}

func newPutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put KEY [VALUE]",
		Short: "Store VALUE under KEY; without VALUE (or with -) read it from stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value []byte
			if len(args) == 2 && args[1] != "-" {
				value = []byte(args[1])
			} else {
				var err error
				if value, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("reading value: %w", err)
				}
			}

			ctx := cmd.Context()
			return withDatabase(ctx, a, true, func(db *kvdb.Database) error {
				return db.Update(ctx, cliOwner("put"), func(c *kvdb.Connection) error {
					return c.Put(ctx, args[0], value)
				})
			})
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete KEY...",
		Aliases: []string{"del"},
		Short:   "Remove keys; absent keys are ignored",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withDatabase(ctx, a, true, func(db *kvdb.Database) error {
				return db.Update(ctx, cliOwner("delete"), func(c *kvdb.Connection) error {
					for _, key := range args {
						if err := c.Delete(ctx, key); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
}

func newCountCmd(a *app) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Print the number of stored keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withDatabase(ctx, a, false, func(db *kvdb.Database) error {
				return db.Do(ctx, cliOwner("count"), func(c *kvdb.Connection) error {
					n, err := c.CountPrefix(ctx, prefix)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), n)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only count keys starting with this prefix")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "query SQL [ARG...]",
		Short: "Run a read-only statement and print rows tab-separated",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stmtArgs := make([]any, 0, len(args)-1)
			for _, arg := range args[1:] {
				stmtArgs = append(stmtArgs, arg)
			}

			ctx := cmd.Context()
			return withDatabase(ctx, a, false, func(db *kvdb.Database) error {
				return db.View(ctx, cliOwner("query"), func(c *kvdb.Connection) error {
					rows, err := c.Query(ctx, args[0], stmtArgs...)
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					for _, row := range rows {
						fmt.Fprintln(out, strings.Join(row, "\t"))
					}
					return nil
				})
			})
		},
	}
}
