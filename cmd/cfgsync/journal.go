package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"cfgsync/internal/journal"
	"cfgsync/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func openJournal() (*badger.DB, *journal.Journal, error) {
	if err := os.MkdirAll(cfg.Journal.Path, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating journal directory: %w", err)
	}
	db, err := storage.Open(cfg.Journal.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening journal: %w", err)
	}
	j, err := journal.New(db, journal.Options{
		CacheSize: cfg.Journal.CacheSize,
		Compression: journal.CompressionOptions{
			MinSize: cfg.Journal.CompressMinSize,
		},
		Logger: logger.Named("journal"),
	})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, j, nil
}

func journalCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "journal",
		Short: "Inspect and extend the patch journal",
	}

	var listCmd = &cobra.Command{
		Use:   "list",
		Short: "List journaled patches",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, j, err := openJournal()
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := j.List()
			if err != nil {
				return fmt.Errorf("listing journal: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("Journal is empty")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSOURCE\tTARGET\tFORMAT\tSIZE\tCREATED")
			for _, e := range entries {
				size := fmt.Sprint(e.Size)
				if e.Compressed {
					size += "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					e.ID[:8], e.Source, e.Target, e.Format, size,
					e.CreatedAt.Local().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	var showCmd = &cobra.Command{
		Use:   "show ID|VERSION",
		Short: "Print a journaled patch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asLog, _ := cmd.Flags().GetBool("log")

			db, j, err := openJournal()
			if err != nil {
				return err
			}
			defer db.Close()

			e, err := j.Find(args[0])
			if err != nil {
				return err
			}
			p, err := j.Patch(e)
			if err != nil {
				return fmt.Errorf("loading %s: %w", e.ID, err)
			}
			if asLog {
				color.New(color.Bold).Printf("patch %s\n", e.ID)
				printPatchLog(p)
				return nil
			}
			return printPatch(p)
		},
	}
	showCmd.Flags().Bool("log", false, "Print the change log instead of the patch")

	var appendCmd = &cobra.Command{
		Use:   "append PATCH...",
		Short: "Add patch files to the journal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, j, err := openJournal()
			if err != nil {
				return err
			}
			defer db.Close()

			for _, path := range args {
				p, err := readPatch(path)
				if err != nil {
					return err
				}
				e, err := j.Append(p)
				if err != nil {
					return fmt.Errorf("journaling %s: %w", path, err)
				}
				fmt.Printf("%s  %s -> %s\n", e.ID, e.Source, e.Target)
			}
			return nil
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(showCmd)
	cmd.AddCommand(appendCmd)
	return cmd
}
