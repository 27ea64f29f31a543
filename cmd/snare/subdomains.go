package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var generateFlags struct {
	clientConfig
	label string
	ttl   int
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Register a new subdomain",
	Long: `Register a new capture subdomain. With no flags a random label is
generated; --label registers a custom label with an optional --ttl.`,
	RunE: runGenerate,
}

var listFlags struct {
	clientConfig
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List subdomains with interaction counts",
	RunE:  runList,
}

var toggleFlags struct {
	clientConfig
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Pause or resume capture for a subdomain",
	Args:  cobra.ExactArgs(1),
	RunE:  runToggle,
}

var deleteFlags struct {
	clientConfig
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a subdomain",
	Long:  `Delete a subdomain and all its recorded interactions and scripts.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(deleteCmd)

	addClientFlags(generateCmd, &generateFlags.clientConfig)
	generateCmd.Flags().StringVar(&generateFlags.label, "label", "", "custom subdomain label")
	generateCmd.Flags().IntVar(&generateFlags.ttl, "ttl", 0, "lifetime in minutes for a custom label")

	addClientFlags(listCmd, &listFlags.clientConfig)
	addClientFlags(toggleCmd, &toggleFlags.clientConfig)
	addClientFlags(deleteCmd, &deleteFlags.clientConfig)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	c, err := generateFlags.newClient()
	if err != nil {
		return err
	}

	resp, err := c.CreateSubdomain(generateFlags.label, generateFlags.ttl)
	if err != nil {
		return err
	}

	fmt.Printf("Subdomain: %s (id %d)\n", resp.Label, resp.ID)
	fmt.Printf("Expires:   %s\n", resp.ExpiresAt)
	fmt.Println()
	fmt.Println("Payloads:")
	if dns, ok := resp.Payloads["dns"]; ok {
		fmt.Printf("  dns:   %s\n", dns)
	}
	if http, ok := resp.Payloads["http"]; ok {
		fmt.Printf("  http:  %s\n", http)
	}

	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	c, err := listFlags.newClient()
	if err != nil {
		return err
	}

	resp, err := c.ListSubdomains()
	if err != nil {
		return err
	}

	if len(resp.Subdomains) == 0 {
		fmt.Println("No subdomains found.")
		return nil
	}

	fmt.Printf("%-6s  %-20s  %-7s  %-19s  %s\n", "ID", "LABEL", "ACTIVE", "EXPIRES", "INTERACTIONS")
	for _, s := range resp.Subdomains {
		active := "yes"
		if !s.IsActive {
			active = "no"
		}
		expires, _ := time.Parse(time.RFC3339, s.ExpiresAt)
		fmt.Printf("%-6d  %-20s  %-7s  %-19s  %d\n",
			s.ID, s.Label, active, expires.Format("2006-01-02 15:04:05"), s.InteractionCount)
	}

	return nil
}

func runToggle(cmd *cobra.Command, args []string) error {
	c, err := toggleFlags.newClient()
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id: %s", args[0])
	}

	resp, err := c.ToggleSubdomain(id)
	if err != nil {
		return err
	}

	state := "active"
	if !resp.IsActive {
		state = "paused"
	}
	fmt.Printf("Subdomain %s is now %s.\n", resp.Label, state)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	c, err := deleteFlags.newClient()
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id: %s", args[0])
	}

	if err := c.DeleteSubdomain(id); err != nil {
		return err
	}

	result := struct {
		ID      int64 `json:"id"`
		Deleted bool  `json:"deleted"`
	}{
		ID:      id,
		Deleted: true,
	}

	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
