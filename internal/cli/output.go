// Package cli formats command output for the kensaku CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is indented JSON for other programs.
	OutputJSON OutputFormat = "json"
)

// previewLen bounds the chunk text shown per result in text output.
const previewLen = 200

// ParseFormat returns the format named by s. Empty selects text.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRetrieveResponse writes a retrieval response in format.
func WriteRetrieveResponse(w io.Writer, resp *models.RetrieveResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	fmt.Fprintf(w, "\n%d results for %q in %s (%s mode, %dms)\n\n",
		resp.Total, resp.Query, resp.CollectionID, resp.Mode, resp.QueryTime)
	for _, r := range resp.Results {
		writeResult(w, r)
	}
	return nil
}

func writeResult(w io.Writer, r models.ScoredChunk) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	source := r.SourceTag
	if r.RetrieverSource != "" {
		source = fmt.Sprintf("%s, weight %.2f", r.RetrieverSource, r.RetrieverWeight)
	}
	fmt.Fprintf(w, "#%d [%s] score %.4f\n", r.Rank, source, r.Score)
	fmt.Fprintf(w, "ID: %s\n", r.Chunk.ID)
	if len(r.Chunk.Metadata) > 0 {
		keys := make([]string, 0, len(r.Chunk.Metadata))
		for k := range r.Chunk.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, r.Chunk.Metadata[k])
		}
		fmt.Fprintf(w, "Metadata: %s\n", strings.Join(parts, " "))
	}
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(utils.NormalizeText(r.Chunk.Text), previewLen))
}

// WriteStats writes index stats in format.
func WriteStats(w io.Writer, stats *models.IndexStats, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, stats)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Collection:\t%s\n", stats.CollectionID)
	fmt.Fprintf(tw, "Status:\t%s\n", stats.Status)
	fmt.Fprintf(tw, "Chunks:\t%d\n", stats.ChunkCount)
	if stats.Status != models.StatusNotBuilt {
		fmt.Fprintf(tw, "Topology:\t%s\n", stats.Topology)
		fmt.Fprintf(tw, "Vectors:\t%d\n", stats.TotalVectors)
		fmt.Fprintf(tw, "Dimensions:\t%d\n", stats.EmbeddingDim)
		fmt.Fprintf(tw, "From cache:\t%t\n", stats.FromCache)
		fmt.Fprintf(tw, "Built at:\t%s\n", stats.BuiltAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(tw, "Cache dir:\t%s\n", stats.CacheDir)
	fmt.Fprintf(tw, "Cache size:\t%s\n", FormatBytes(stats.CacheBytes))
	return tw.Flush()
}

// WriteCollections writes the collection list in format.
func WriteCollections(w io.Writer, collections []models.Collection, format OutputFormat) error {
	if format == OutputJSON {
		if collections == nil {
			collections = []models.Collection{}
		}
		return WriteJSON(w, collections)
	}
	if len(collections) == 0 {
		fmt.Fprintln(w, "No collections.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCHUNKS\tUPDATED")
	for _, c := range collections {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", c.ID, c.ChunkCount, c.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
