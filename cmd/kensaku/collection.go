package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kensaku/internal/chunkfile"
	"github.com/hyperjump/kensaku/internal/cli"
	"github.com/hyperjump/kensaku/internal/models"
)

var (
	retrieveK      int
	retrieveMode   string
	retrieveJSON   bool
	retrieveServer string
	importReplace  bool
	statsJSON      bool
	listJSON       bool
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <collection> <query>",
	Short: "Retrieve the chunks most relevant to a query",
	Long: `Retrieve chunks from a collection. The query is all remaining arguments
joined by spaces. In hybrid mode results from the collection's own vector index
come first, followed by external store results not already returned.

With --server the query is sent to a running server instead of opening the
local stores.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRetrieve,
}

var importCmd = &cobra.Command{
	Use:   "import <collection> <file>",
	Short: "Add chunks to a collection",
	Long: `Import chunks into a collection. A .jsonl file holds one chunk object per
line ({"id", "text", "metadata"}). Text, Markdown, PDF, Word, PowerPoint,
Excel and OpenDocument files are converted to text and split into overlapping
windows sized by the chunking config.`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

var buildCmd = &cobra.Command{
	Use:   "build <collection>",
	Short: "Rebuild a collection's vector index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(func(c *Components) error {
			if _, err := c.Indexer.Rebuild(cmd.Context(), args[0]); err != nil {
				return err
			}
			stats, err := c.Indexer.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cli.WriteStats(cmd.OutOrStdout(), stats, cli.OutputText)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <collection>",
	Short: "Show index statistics for a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(func(c *Components) error {
			stats, err := c.Indexer.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cli.WriteStats(cmd.OutOrStdout(), stats, formatFlag(statsJSON))
		})
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache <collection>",
	Short: "Drop a collection's built index and on-disk cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(func(c *Components) error {
			if err := c.Indexer.Invalidate(args[0]); err != nil {
				return err
			}
			cmd.Printf("Cache cleared: %s\n", args[0])
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <collection>",
	Short: "Delete a collection and everything derived from it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(func(c *Components) error {
			if err := c.Indexer.DeleteCollection(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("Collection deleted: %s\n", args[0])
			return nil
		})
	},
}

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List stored collections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withComponents(func(c *Components) error {
			cols, err := c.Indexer.Collections(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteCollections(cmd.OutOrStdout(), cols, formatFlag(listJSON))
		})
	},
}

func init() {
	retrieveCmd.Flags().IntVarP(&retrieveK, "top-k", "k", 0, "number of results (0 uses retrieval.default_k)")
	retrieveCmd.Flags().StringVarP(&retrieveMode, "mode", "m", "", "hybrid, self_only, external_only or keyword_hybrid")
	retrieveCmd.Flags().BoolVar(&retrieveJSON, "json", false, "output JSON")
	retrieveCmd.Flags().StringVar(&retrieveServer, "server", "", "query a running server at this URL")
	importCmd.Flags().BoolVar(&importReplace, "replace", false, "replace the collection's chunks instead of adding")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output JSON")
	collectionsCmd.Flags().BoolVar(&listJSON, "json", false, "output JSON")

	rootCmd.AddCommand(retrieveCmd, importCmd, buildCmd, statsCmd, clearCacheCmd, deleteCmd, collectionsCmd)
}

func formatFlag(jsonOut bool) cli.OutputFormat {
	if jsonOut {
		return cli.OutputJSON
	}
	return cli.OutputText
}

// withComponents opens the local stores for the duration of fn.
func withComponents(fn func(c *Components) error) error {
	c, _, err := openComponents()
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// buildRetrieveQuery joins the query words and parses the mode flag.
func buildRetrieveQuery(collectionID string, words []string) (*models.RetrieveQuery, error) {
	q := &models.RetrieveQuery{
		CollectionID: collectionID,
		Query:        strings.TrimSpace(strings.Join(words, " ")),
		K:            retrieveK,
	}
	if retrieveMode != "" {
		mode, err := models.ParseMode(retrieveMode)
		if err != nil {
			return nil, err
		}
		q.Mode = mode
	}
	return q, nil
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	query, err := buildRetrieveQuery(args[0], args[1:])
	if err != nil {
		return err
	}
	var resp *models.RetrieveResponse
	if retrieveServer != "" {
		resp, err = retrieveViaHTTP(cmd.Context(), retrieveServer, query)
	} else {
		err = withComponents(func(c *Components) error {
			var rerr error
			resp, rerr = c.Engine.Retrieve(cmd.Context(), query)
			return rerr
		})
	}
	if err != nil {
		return err
	}
	return cli.WriteRetrieveResponse(cmd.OutOrStdout(), resp, formatFlag(retrieveJSON))
}

func retrieveViaHTTP(ctx context.Context, serverURL string, query *models.RetrieveQuery) (*models.RetrieveResponse, error) {
	var resp models.RetrieveResponse
	err := newAPIClient(serverURL).do(ctx, http.MethodPost,
		collectionPath(query.CollectionID, "retrieve"), query, &resp, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	collectionID, path := args[0], args[1]
	return withComponents(func(c *Components) error {
		chunks, err := chunkfile.Load(path, c.Splitter)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			return fmt.Errorf("%s: no chunks found", path)
		}
		if importReplace {
			err = c.Indexer.ReplaceChunks(cmd.Context(), collectionID, chunks)
		} else {
			err = c.Indexer.AddChunks(cmd.Context(), collectionID, chunks)
		}
		if err != nil {
			return err
		}
		cmd.Printf("Imported %d chunks into %s\n", len(chunks), collectionID)
		return nil
	})
}
