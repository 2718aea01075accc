package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/bidscope/internal/core/domain"
	"github.com/kirillkom/bidscope/internal/core/ports"
)

// RunPublisher hands run requests to the worker pool.
type RunPublisher interface {
	PublishRunRequested(ctx context.Context, req domain.RunRequest) error
}

// CutoverView is the read side of the cutover gate.
type CutoverView interface {
	GetMode(stage, entityID string) domain.CutoverMode
	Stages() []string
}

// Services are the use cases the commands drive. Any field may be nil when
// the command using it is not expected to run.
type Services struct {
	Ingest    ports.DocumentIngestor
	Retriever ports.Retriever
	Runner    ports.ExtractionRunner
	Publisher RunPublisher
	Results   ports.ResultStore
	Specs     ports.SpecCatalog
	Cutover   CutoverView
}

// Loader builds services on first use; the returned func releases them.
type Loader func(ctx context.Context) (*Services, func(), error)

type app struct {
	load Loader
}

func NewRootCommand(load Loader) *cobra.Command {
	a := &app{load: load}
	root := &cobra.Command{
		Use:           "bidscope",
		Short:         "Ingest tender documents and extract structured bids",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		a.ingestCommand(),
		a.retrieveCommand(),
		a.runCommand(),
		a.resultCommand(),
		a.cutoverCommand(),
		a.specsCommand(),
	)
	return root
}

func (a *app) services(cmd *cobra.Command) (*Services, func(), error) {
	if a.load == nil {
		return nil, nil, errors.New("services not configured")
	}
	svc, release, err := a.load(cmd.Context())
	if err != nil {
		return nil, nil, fmt.Errorf("init services: %w", err)
	}
	if release == nil {
		release = func() {}
	}
	return svc, release, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func (a *app) specsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "specs",
		Short: "List extraction specs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, release, err := a.services(cmd)
			if err != nil {
				return err
			}
			defer release()
			if svc.Specs == nil {
				return errors.New("spec catalog not configured")
			}
			for _, name := range svc.Specs.Names() {
				spec, _ := svc.Specs.Get(name)
				cmd.Printf("%s\tversion=%s\tstage=%s\tgroups=%d\n", name, spec.Version, spec.StageName(), len(spec.QueryGroups))
			}
			return nil
		},
	}
}
