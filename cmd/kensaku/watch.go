package main

import (
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/spf13/cobra"
)

var watchServer string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage the drop directories of a running server",
	Long: `Add, remove or list directories the server watches for <collection>.jsonl
drop files. Changes are saved to the server's config file.`,
}

var watchAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Watch a directory and import the drop files already in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		body := map[string]interface{}{"path": path, "sync": true}
		if err := newAPIClient(watchServer).do(cmd.Context(), http.MethodPost, "/watch/directories", body, nil, http.StatusCreated); err != nil {
			return err
		}
		cmd.Printf("Added: %s\n", path)
		return nil
	},
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Stop watching a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if err := newAPIClient(watchServer).do(cmd.Context(), http.MethodDelete, "/watch/directories?path="+url.QueryEscape(path), nil, nil, http.StatusOK); err != nil {
			return err
		}
		cmd.Printf("Removed: %s\n", path)
		return nil
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched directories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := newAPIClient(watchServer).do(cmd.Context(), http.MethodGet, "/watch/directories", nil, &out, http.StatusOK); err != nil {
			return err
		}
		for _, d := range out.Directories {
			cmd.Println(d)
		}
		return nil
	},
}

func init() {
	watchCmd.PersistentFlags().StringVar(&watchServer, "server", defaultServerURL, "server URL")
	watchCmd.AddCommand(watchAddCmd, watchRemoveCmd, watchListCmd)
	rootCmd.AddCommand(watchCmd)
}
