package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pdiddy/rxn-harvest/internal/results"
	"github.com/pdiddy/rxn-harvest/internal/store"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Load crawl documents into SQLite and query them",
	Long: `Store keeps crawled collections and their reaction records in a SQLite
database. Loading a document replaces the collections it contains, so
re-importing a resumed crawl is safe. Records can be searched by a SMILES
fragment or listed per collection.`,
}

var storeImportCmd = &cobra.Command{
	Use:   "import <document>",
	Short: "Load a crawl document into the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := results.ReadFile(args[0])
		if err != nil {
			return err
		}
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		sum, err := st.SaveDocument(cmd.Context(), *doc, os.Stdout)
		if err != nil {
			return err
		}
		if sum.Failed > 0 {
			return fmt.Errorf("%d collection(s) failed to store", sum.Failed)
		}
		return nil
	},
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		rows, err := st.ListCollections(cmd.Context())
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No collections stored.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COLLECTION\tSOURCE\tSCRAPED\tRECORDS\tSTOP\tERROR")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d\t%s\t%s\n",
				r.ID, r.Source, r.Succeeded, r.Attempted, r.Records, r.StopReason, r.Error)
		}
		return tw.Flush()
	},
}

var storeExportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Export stored collection summaries as YAML or JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.ExportCollections(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d collections to %s\n", n, args[0])
		return nil
	},
}

var storeSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search stored records by SMILES fragment or collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts store.SearchOptions
		opts.Smiles, _ = cmd.Flags().GetString("smiles")
		opts.CollectionID, _ = cmd.Flags().GetString("collection")
		opts.MaxResults, _ = cmd.Flags().GetInt("max-results")
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		rows, err := st.Search(cmd.Context(), opts)
		if err != nil {
			return err
		}

		if asJSON {
			recs := make([]any, 0, len(rows))
			for _, r := range rows {
				recs = append(recs, r.Record)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}

		for _, r := range rows {
			fmt.Printf("%s  #%d  %s\n", r.CollectionID, r.Position, r.ReactionID)
		}
		fmt.Printf("\n%d record(s)\n", len(rows))
		return nil
	},
}

func openStore(cmd *cobra.Command) (*store.Store, error) {
	path, _ := cmd.Flags().GetString("db")
	return store.Open(path)
}

func init() {
	storeCmd.PersistentFlags().String("db", "reactions.db", "SQLite database path")

	storeSearchCmd.Flags().String("smiles", "", "SMILES fragment to match")
	storeSearchCmd.Flags().String("collection", "", "restrict to one collection id")
	storeSearchCmd.Flags().Int("max-results", 20, "maximum number of records")
	storeSearchCmd.Flags().Bool("json", false, "print records as JSON")

	storeCmd.AddCommand(storeImportCmd, storeListCmd, storeSearchCmd, storeExportCmd)
	rootCmd.AddCommand(storeCmd)
}
