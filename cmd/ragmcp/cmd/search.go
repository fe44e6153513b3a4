package cmd

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amanmcp-ragmcp/ragmcp/internal/output"
	"github.com/amanmcp-ragmcp/ragmcp/internal/ragerrors"
	"github.com/amanmcp-ragmcp/ragmcp/internal/store"
)

func newSearchCmd() *cobra.Command {
	var (
		topK      int
		directory string
		glob      string
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run one similarity search and print the results",
		Long: `Embed <query> and run a similarity search against the configured
store, without starting the MCP server. Useful for verifying an index
from the command line.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, topK, directory, glob, jsonOut)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (defaults to config's search_top_k)")
	cmd.Flags().StringVar(&directory, "directory", "", "Restrict results to documents under this path prefix")
	cmd.Flags().StringVar(&glob, "filename-glob", "", "Restrict results to filenames matching this glob")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output results as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, topK int, directory, glob string, jsonOut bool) error {
	if strings.TrimSpace(query) == "" {
		return ragerrors.ConfigInvalidf("query must not be blank")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if topK <= 0 {
		topK = cfg.SearchTopK
	}

	embedder, st, err := openEmbedderAndStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	vector, err := embedder.Embed(ctx, query)
	if err != nil {
		return ragerrors.InferenceFailedErr("embed query", err)
	}

	results, err := st.SimilaritySearch(ctx, vector, topK, store.SimilarityFilter{
		DirectoryPrefix: directory,
		FilenameGlob:    glob,
	})
	if err != nil {
		return ragerrors.IoFailedErr("similarity search", err)
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	out := output.New(cmd.OutOrStdout())
	for _, r := range results {
		out.Statusf("", "%.4f  %s", r.Score, r.DocPath)
		if r.Heading != "" {
			out.Status("", "        "+r.Heading)
		}
		out.Status("", "        "+r.Snippet)
	}
	return nil
}
