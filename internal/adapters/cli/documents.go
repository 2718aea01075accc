package cli

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

func (a *app) ingestCommand() *cobra.Command {
	var (
		entityID   string
		docType    string
		documentID string
		mimeType   string
	)
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Store a document version and index its segments",
		Long: `Stores the file as a new version of a document owned by an entity.
Without --document a new document is created. Identical bytes reuse the
existing version.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if documentID == "" && strings.TrimSpace(entityID) == "" {
				return errors.New("--entity is required when --document is not set")
			}
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			if mimeType == "" {
				mimeType = mime.TypeByExtension(filepath.Ext(args[0]))
			}

			svc, release, err := a.services(cmd)
			if err != nil {
				return err
			}
			defer release()
			if svc.Ingest == nil {
				return errors.New("ingest service not configured")
			}

			if documentID == "" {
				documentID, err = svc.Ingest.CreateDocument(cmd.Context(), docType, entityID)
				if err != nil {
					return err
				}
			}
			version, segments, err := svc.Ingest.Ingest(cmd.Context(), documentID, mimeType, content)
			if err != nil {
				return err
			}
			cmd.Printf("document=%s version=%s hash=%s segments=%d\n", documentID, version.ID, version.ContentHash, segments)
			return nil
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "owning entity (project) id")
	cmd.Flags().StringVar(&docType, "type", "tender", "document type")
	cmd.Flags().StringVar(&documentID, "document", "", "add a version to an existing document")
	cmd.Flags().StringVar(&mimeType, "mime", "", "content type (detected from extension when empty)")
	return cmd
}

func (a *app) retrieveCommand() *cobra.Command {
	var (
		entityID string
		docTypes []string
		versions []string
		topK     int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve [query]",
		Short: "Run hybrid retrieval over an entity's documents",
		Long: `Fuses dense and lexical rankings with reciprocal rank fusion.
When the dense path is unavailable the result is lexical only and marked degraded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, release, err := a.services(cmd)
			if err != nil {
				return err
			}
			defer release()
			if svc.Retriever == nil {
				return errors.New("retriever not configured")
			}

			result, err := svc.Retriever.Retrieve(cmd.Context(), domain.RetrievalRequest{
				Query: args[0],
				Scope: domain.Scope{EntityID: entityID, DocTypes: docTypes, VersionIDs: versions},
				TopK:  topK,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, result)
			}
			if result.Degraded {
				cmd.Printf("degraded: %s\n", result.DegradedReason)
			}
			if len(result.Chunks) == 0 {
				cmd.Println("No chunks found.")
				return nil
			}
			for i, chunk := range result.Chunks {
				cmd.Printf("[%d] %s (%.4f, %s) %s\n", i+1, chunk.ID, chunk.Score, chunk.Path, snippet(chunk.Text, 120))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "entity (project) id")
	cmd.Flags().StringSliceVar(&docTypes, "type", nil, "restrict to document types")
	cmd.Flags().StringSliceVar(&versions, "version", nil, "explicit version ids")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 10, "number of fused chunks")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the result as JSON")
	return cmd
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
