package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gantryci/gantry/internal/pipeline"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a pipeline definition without running it",
	Long: `Validate parses the pipeline file and checks everything that would
reject a run before any job starts: YAML shape, step structure, guard
expressions, cron schedules, and the dependency graph (unknown needs
references and cycles).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

var validateFile string

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", ".gantry.yml", "pipeline definition file")

	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	newLogger()

	file := validateFile
	if len(args) == 1 {
		file = args[0]
	}
	p, err := pipeline.Load(file)
	if err != nil {
		return err
	}

	fmt.Printf("%s: pipeline %q is valid (%d jobs)\n", file, p.Name, len(p.Jobs.Order))
	return nil
}
