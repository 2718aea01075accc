package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

func (a *app) runCommand() *cobra.Command {
	var (
		entityID string
		specName string
		modelID  string
		docTypes []string
		publish  bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an extraction for an entity",
		Long: `Runs the extraction spec for the entity under the cutover mode configured
for its stage and stores the run record. With --publish the request is queued
for the workers instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if entityID == "" {
				return errors.New("--entity is required")
			}
			req := domain.RunRequest{
				EntityID: entityID,
				SpecName: specName,
				ModelID:  modelID,
				Scope:    domain.Scope{EntityID: entityID, DocTypes: docTypes},
			}

			svc, release, err := a.services(cmd)
			if err != nil {
				return err
			}
			defer release()

			if publish {
				if svc.Publisher == nil {
					return errors.New("run publisher not configured")
				}
				req.RequestedAt = time.Now().UTC()
				if err := svc.Publisher.PublishRunRequested(cmd.Context(), req); err != nil {
					return fmt.Errorf("publish run request: %w", err)
				}
				cmd.Printf("queued %s for %s\n", specName, entityID)
				return nil
			}

			if svc.Runner == nil {
				return errors.New("extraction runner not configured")
			}
			record, runErr := svc.Runner.RunForEntity(cmd.Context(), req)
			if record == nil {
				return runErr
			}
			if asJSON {
				if err := printJSON(cmd, record); err != nil {
					return err
				}
			} else {
				printRecord(cmd, record)
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "entity (project) id")
	cmd.Flags().StringVar(&specName, "spec", "tender_parse", "extraction spec name")
	cmd.Flags().StringVar(&modelID, "model", "", "model id (worker default when empty)")
	cmd.Flags().StringSliceVar(&docTypes, "type", nil, "restrict to document types")
	cmd.Flags().BoolVar(&publish, "publish", false, "queue the run for workers")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the run record as JSON")
	return cmd
}

func (a *app) resultCommand() *cobra.Command {
	var specName string
	cmd := &cobra.Command{
		Use:   "result [entity]",
		Short: "Show the stored run record of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, release, err := a.services(cmd)
			if err != nil {
				return err
			}
			defer release()
			if svc.Results == nil {
				return errors.New("result store not configured")
			}
			record, err := svc.Results.Get(cmd.Context(), args[0], specName)
			if err != nil {
				return err
			}
			return printJSON(cmd, record)
		},
	}
	cmd.Flags().StringVar(&specName, "spec", "tender_parse", "extraction spec name")
	return cmd
}

func printRecord(cmd *cobra.Command, record *domain.RunRecord) {
	cmd.Printf("run=%s status=%s mode=%s variant=%s\n", record.RunID, record.Status, record.Mode, record.Variant)
	if record.ErrorClass != "" {
		cmd.Printf("error_class=%s message=%s\n", record.ErrorClass, record.Message)
	}
	if record.Result == nil {
		return
	}
	res := record.Result
	cmd.Printf("spec=%s@%s model=%s degraded=%v evidence=%d total_ms=%.1f\n",
		res.SpecName, res.SpecVersion, res.ModelID, res.Degraded, len(res.EvidenceChunkIDs), res.Timing.TotalMs)
	if len(res.MissingRequired) > 0 {
		cmd.Printf("missing_required=%v\n", res.MissingRequired)
	}
}
