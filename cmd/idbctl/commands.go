package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tracktunes/idb"
)

type record = map[string]any

var (
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Create the store, or upgrade it to the descriptor's version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s *idb.Store) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is at version %d\n", s.Name(), s.Version())
				return nil
			})
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print per-collection record counts and sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s *idb.Store) error {
				stats, err := s.Stats(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "COLLECTION\tROWS\tNEXT KEY\tDATA\tINDEX ROWS\tINDEX")
				for _, cs := range stats {
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", cs.Name, cs.Rows, cs.NextKey, cs.DataSize, cs.IndexRows, cs.IndexSize)
				}
				return w.Flush()
			})
		},
	}

	putCmd = &cobra.Command{
		Use:   "put [collection] [json]",
		Short: "Add a record and print its key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := parseRecord(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, s *idb.Store) error {
				key, err := idb.Create(ctx, s, args[0], item, nil)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			})
		},
	}

	updateCmd = &cobra.Command{
		Use:   "update [collection] [key] [json]",
		Short: "Replace an existing record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[1])
			if err != nil {
				return err
			}
			item, err := parseRecord(args[2])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, s *idb.Store) error {
				return idb.Update(ctx, s, args[0], key, item)
			})
		},
	}

	getCmd = &cobra.Command{
		Use:   "get [collection] [key]",
		Short: "Print a record as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, s *idb.Store) error {
				item, found, err := idb.Read[record](ctx, s, args[0], key)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%s/%d not found", args[0], key)
				}
				return printJSON(cmd.OutOrStdout(), item)
			})
		},
	}

	deleteCmd = &cobra.Command{
		Use:   "delete [collection] [key]",
		Short: "Remove a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, s *idb.Store) error {
				return s.Delete(ctx, args[0], key)
			})
		},
	}

	scanCmd = &cobra.Command{
		Use:   "scan [collection]",
		Short: "Print records in key order, one JSON document per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reverse, _ := cmd.Flags().GetBool("reverse")
			limit, _ := cmd.Flags().GetInt("limit")
			return withStore(cmd, func(ctx context.Context, s *idb.Store) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				var n int
				var encErr error
				err := idb.Scan(ctx, s, args[0], reverse, func(key idb.Key, item record) bool {
					encErr = enc.Encode(map[string]any{"key": key, "record": item})
					n++
					return encErr == nil && (limit <= 0 || n < limit)
				})
				if err != nil {
					return err
				}
				return encErr
			})
		},
	}

	reindexCmd = &cobra.Command{
		Use:   "reindex [collection]",
		Short: "Rebuild the indexes of a collection from its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s *idb.Store) error {
				return s.Reindex(ctx, args[0])
			})
		},
	}

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Print every record and index row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s *idb.Store) error {
				out, err := s.Dump(ctx, idb.DumpAll)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear [collection]",
		Short: "Remove every record of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s *idb.Store) error {
				return s.ClearCollection(ctx, args[0])
			})
		},
	}

	dropCmd = &cobra.Command{
		Use:   "drop [store]",
		Short: "Delete a whole store, waiting while it is open elsewhere",
		Long: `Delete a whole store. The store name defaults to the one in the
descriptor. While another process holds the store open, the deletion is
retried until it succeeds, --max-delete-attempts is reached or --timeout
expires.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) > 0 {
				name = args[0]
			} else {
				desc, err := loadDescriptor()
				if err != nil {
					return err
				}
				name = desc.Name
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			if err := idb.DeleteStore(ctx, name, storeOptions()); err != nil {
				return err
			}
			if viper.GetBool("verbose") {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
			}
			return nil
		},
	}
)

func init() {
	scanCmd.Flags().BoolP("reverse", "r", false, "newest records first")
	scanCmd.Flags().IntP("limit", "n", 0, "stop after this many records (0 prints all)")
}

func parseKey(s string) (idb.Key, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("key must be a positive number, got %q", s)
	}
	return idb.Key(v), nil
}

func parseRecord(s string) (record, error) {
	var item record
	if err := json.Unmarshal([]byte(s), &item); err != nil {
		return nil, fmt.Errorf("record must be a JSON object: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("record must be a JSON object, got null")
	}
	return item, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
