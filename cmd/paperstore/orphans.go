package main

import (
	"context"
	"fmt"
	"log"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ndlib/paperstore/chunk"
	"github.com/ndlib/paperstore/submission"
)

func newOrphansCmd(load configLoader) *cobra.Command {
	var purge bool
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List blobs that no submission refers to",
		Long: `List blobs that no submission refers to. These are left behind by
uploads that failed part way through, or whose record could not be written.
With --purge, orphans last modified before --older-than ago are deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			chunks, records, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer records.DB.Close()
			ctx := context.Background()
			return runOrphans(ctx, cmd, chunks, records, purge, time.Now().Add(-olderThan))
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "delete the orphans")
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "only purge orphans idle at least this long")
	return cmd
}

// runOrphans lists the orphans and deletes those not modified since cutoff,
// if purge is set.
func runOrphans(ctx context.Context, cmd *cobra.Command, chunks *chunk.Store, records *submission.Writer, purge bool, cutoff time.Time) error {
	orphans, err := records.Orphans(ctx, chunks.List())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tCOMPLETE\tLENGTH\tNAME\tACTION")
	var nerr int
	for _, b := range orphans {
		action := ""
		if purge && b.Modified.Before(cutoff) {
			action = "deleted"
			if err := chunks.DeleteBlob(b.ID); err != nil {
				log.Printf("orphans: %s: %s", b.ID, err)
				action = "error"
				nerr++
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%v\t%d\t%s\t%s\n",
			b.ID, b.Created.Format(time.RFC3339), b.Complete, b.Length, b.Name, action)
	}
	tw.Flush()
	if nerr > 0 {
		return fmt.Errorf("%d orphans could not be deleted", nerr)
	}
	return nil
}
