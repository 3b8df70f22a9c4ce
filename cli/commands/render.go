package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mr-fatalyst/oxyde/query/ir"
	"github.com/mr-fatalyst/oxyde/query/sqlgen"
)

var renderDialect string

var renderCmd = &cobra.Command{
	Use:   "render <ir.json>",
	Short: "Compile a query IR file to SQL",
	Long: `Compile a query IR file (JSON form) to parameterised SQL for the
chosen dialect without touching a database.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&renderDialect, "dialect", "d", "postgres", "Target dialect: postgres, sqlite, mysql")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading IR file: %w", err)
	}

	var q ir.QueryIR
	if err := json.Unmarshal(raw, &q); err != nil {
		return fmt.Errorf("parsing IR file: %w", err)
	}
	if q.Proto == 0 {
		q.Proto = ir.ProtoVersion
	}

	dialect, err := sqlgen.DialectFromScheme(renderDialect)
	if err != nil {
		return err
	}
	built, err := sqlgen.Build(&q, dialect)
	if err != nil {
		return err
	}

	color.Cyan("-- %s", dialect)
	fmt.Println(built.SQL)
	if len(built.Args) > 0 {
		color.Yellow("-- params")
		for i, a := range built.Args {
			fmt.Printf("%d: %v\n", i+1, a)
		}
	}
	return nil
}
