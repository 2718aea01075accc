package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

func (a *app) cutoverCommand() *cobra.Command {
	var entityID string
	cmd := &cobra.Command{
		Use:   "cutover [stage...]",
		Short: "Show cutover modes",
		Long: `Prints the mode each stage resolves to. With --entity the PROJECT
allowlists are applied for that entity; stages not configured run OLD.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, release, err := a.services(cmd)
			if err != nil {
				return err
			}
			defer release()
			if svc.Cutover == nil {
				return errors.New("cutover gate not configured")
			}
			stages := args
			if len(stages) == 0 {
				stages = svc.Cutover.Stages()
			}
			if len(stages) == 0 {
				cmd.Println("No stages configured; every stage runs OLD.")
				return nil
			}
			for _, stage := range stages {
				cmd.Printf("%s\t%s\n", stage, svc.Cutover.GetMode(stage, entityID))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "resolve modes for this entity")
	return cmd
}
