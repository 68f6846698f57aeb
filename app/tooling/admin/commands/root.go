// Package commands contains the admin commands for the ledger service.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var (
	url     string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "admin",
	Short:        "Administer the cooperative ledger",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the ledger service.")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 2*time.Minute, "Time to wait on the ledger service.")
}

// Execute runs the command named on the command line.
func Execute(build string) error {
	rootCmd.Version = build
	return rootCmd.ExecuteContext(context.Background())
}

// printJSON writes the value as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	_, err = fmt.Fprintln(w, string(data))
	return err
}
