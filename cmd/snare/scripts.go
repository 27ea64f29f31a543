package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oobits/snare/internal/api"
)

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Manage ephemeral callback scripts",
}

var scriptCreateFlags struct {
	clientConfig
	template string
	format   string
	filename string
	file     string
}

var scriptCreateCmd = &cobra.Command{
	Use:   "create <subdomain-id>",
	Short: "Create a script for a subdomain",
	Long: `Create an ephemeral script served at http://<label>.<domain>/script/<filename>.

Either render a built-in template (--template with --format) or upload
custom content (--file with --filename).`,
	Args: cobra.ExactArgs(1),
	RunE: runScriptCreate,
}

var scriptListFlags struct {
	clientConfig
}

var scriptListCmd = &cobra.Command{
	Use:   "list <subdomain-id>",
	Short: "List scripts for a subdomain",
	Args:  cobra.ExactArgs(1),
	RunE:  runScriptList,
}

var scriptDeleteFlags struct {
	clientConfig
}

var scriptDeleteCmd = &cobra.Command{
	Use:   "delete <script-id>",
	Short: "Delete a script",
	Args:  cobra.ExactArgs(1),
	RunE:  runScriptDelete,
}

var templatesFlags struct {
	clientConfig
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List available script templates",
	RunE:  runTemplates,
}

func init() {
	rootCmd.AddCommand(scriptCmd)
	scriptCmd.AddCommand(scriptCreateCmd)
	scriptCmd.AddCommand(scriptListCmd)
	scriptCmd.AddCommand(scriptDeleteCmd)
	rootCmd.AddCommand(templatesCmd)

	addClientFlags(scriptCreateCmd, &scriptCreateFlags.clientConfig)
	scriptCreateCmd.Flags().StringVar(&scriptCreateFlags.template, "template", "", "template category (see 'snare templates')")
	scriptCreateCmd.Flags().StringVar(&scriptCreateFlags.format, "format", "", "file format, e.g. bash, ps1, html")
	scriptCreateCmd.Flags().StringVar(&scriptCreateFlags.filename, "filename", "", "filename for custom content")
	scriptCreateCmd.Flags().StringVar(&scriptCreateFlags.file, "file", "", "path to custom content")

	addClientFlags(scriptListCmd, &scriptListFlags.clientConfig)
	addClientFlags(scriptDeleteCmd, &scriptDeleteFlags.clientConfig)
	addClientFlags(templatesCmd, &templatesFlags.clientConfig)
}

func runScriptCreate(cmd *cobra.Command, args []string) error {
	c, err := scriptCreateFlags.newClient()
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id: %s", args[0])
	}

	req := api.CreateScriptRequest{
		Template:   scriptCreateFlags.template,
		FileFormat: scriptCreateFlags.format,
		Filename:   scriptCreateFlags.filename,
	}
	if scriptCreateFlags.file != "" {
		content, err := os.ReadFile(scriptCreateFlags.file)
		if err != nil {
			return fmt.Errorf("read content: %w", err)
		}
		req.Content = string(content)
	}

	resp, err := c.CreateScript(id, req)
	if err != nil {
		return err
	}

	fmt.Printf("Script:  %s (id %d)\n", resp.Filename, resp.ID)
	fmt.Printf("URL:     %s\n", resp.URL)
	fmt.Printf("Expires: %s\n", resp.ExpiresAt)
	return nil
}

func runScriptList(cmd *cobra.Command, args []string) error {
	c, err := scriptListFlags.newClient()
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id: %s", args[0])
	}

	resp, err := c.ListScripts(id)
	if err != nil {
		return err
	}

	if len(resp.Scripts) == 0 {
		fmt.Println("No scripts found.")
		return nil
	}

	fmt.Printf("%-6s  %-24s  %-10s  %-19s  %s\n", "ID", "FILENAME", "TEMPLATE", "EXPIRES", "ACCESSES")
	for _, s := range resp.Scripts {
		expires, _ := time.Parse(time.RFC3339, s.ExpiresAt)
		fmt.Printf("%-6d  %-24s  %-10s  %-19s  %d\n",
			s.ID, s.Filename, s.Template, expires.Format("2006-01-02 15:04:05"), s.AccessCount)
	}

	return nil
}

func runScriptDelete(cmd *cobra.Command, args []string) error {
	c, err := scriptDeleteFlags.newClient()
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id: %s", args[0])
	}

	if err := c.DeleteScript(id); err != nil {
		return err
	}

	fmt.Printf("Script %d deleted.\n", id)
	return nil
}

func runTemplates(cmd *cobra.Command, args []string) error {
	c, err := templatesFlags.newClient()
	if err != nil {
		return err
	}

	templates, err := c.Templates()
	if err != nil {
		return err
	}

	fmt.Printf("%-10s  %s\n", "CATEGORY", "FORMATS")
	for _, t := range templates {
		fmt.Printf("%-10s  %s\n", t.Category, strings.Join(t.Formats, ", "))
	}
	return nil
}
