package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var interactionsFlags struct {
	clientConfig
}

var interactionsCmd = &cobra.Command{
	Use:   "interactions <subdomain-id>",
	Short: "List interactions for a subdomain",
	Args:  cobra.ExactArgs(1),
	RunE:  runInteractions,
}

var searchFlags struct {
	clientConfig
	search string
	kind   string
	start  string
	end    string
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search interactions across all subdomains",
	Long: `Search recorded interactions across every subdomain. Filters by
free-text match, interaction type (HTTP or DNS), and date range.`,
	RunE: runSearch,
}

var exportFlags struct {
	clientConfig
	format string
	output string
}

var exportCmd = &cobra.Command{
	Use:   "export <subdomain-id>",
	Short: "Export a subdomain's interactions",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var clearFlags struct {
	clientConfig
}

var clearCmd = &cobra.Command{
	Use:   "clear <subdomain-id>",
	Short: "Delete all interactions for a subdomain",
	Args:  cobra.ExactArgs(1),
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(interactionsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(clearCmd)

	addClientFlags(interactionsCmd, &interactionsFlags.clientConfig)

	addClientFlags(searchCmd, &searchFlags.clientConfig)
	searchCmd.Flags().StringVar(&searchFlags.search, "search", "", "free-text filter")
	searchCmd.Flags().StringVar(&searchFlags.kind, "type", "", "interaction type (HTTP or DNS)")
	searchCmd.Flags().StringVar(&searchFlags.start, "start", "", "start date (RFC3339 or YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchFlags.end, "end", "", "end date (RFC3339 or YYYY-MM-DD)")

	addClientFlags(exportCmd, &exportFlags.clientConfig)
	exportCmd.Flags().StringVar(&exportFlags.format, "format", "json", "export format (json, csv, xlsx)")
	exportCmd.Flags().StringVar(&exportFlags.output, "output", "", "output file (default: server-suggested name)")

	addClientFlags(clearCmd, &clearFlags.clientConfig)
}

func runInteractions(cmd *cobra.Command, args []string) error {
	c, err := interactionsFlags.newClient()
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id: %s", args[0])
	}

	resp, err := c.GetInteractions(id)
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	c, err := searchFlags.newClient()
	if err != nil {
		return err
	}

	resp, err := c.SearchInteractions(searchFlags.search, searchFlags.kind, searchFlags.start, searchFlags.end)
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	c, err := exportFlags.newClient()
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id: %s", args[0])
	}

	data, filename, err := c.Export(id, exportFlags.format)
	if err != nil {
		return err
	}

	out := exportFlags.output
	if out == "" {
		out = filename
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	fmt.Printf("Exported to %s (%d bytes).\n", out, len(data))
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	c, err := clearFlags.newClient()
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id: %s", args[0])
	}

	if err := c.ClearInteractions(id); err != nil {
		return err
	}

	fmt.Printf("Interactions cleared for subdomain %d.\n", id)
	return nil
}
