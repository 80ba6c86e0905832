package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gantryci/gantry/internal/pipeline"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the pipeline's dependency levels",
	Long: `Graph prints the jobs grouped into execution levels: every job in a
level depends only on jobs in earlier levels, so jobs within one
level may run in parallel.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraph,
}

var graphFile string

func init() {
	graphCmd.Flags().StringVarP(&graphFile, "file", "f", ".gantry.yml", "pipeline definition file")

	rootCmd.AddCommand(graphCmd)
}

func runGraph(cmd *cobra.Command, args []string) error {
	newLogger()

	file := graphFile
	if len(args) == 1 {
		file = args[0]
	}
	p, err := pipeline.Load(file)
	if err != nil {
		return err
	}
	g, err := p.BuildGraph()
	if err != nil {
		return err
	}

	for i, level := range g.Levels() {
		fmt.Printf("%d: %s\n", i, strings.Join(level, ", "))
	}
	return nil
}
