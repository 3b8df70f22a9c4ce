package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mr-fatalyst/oxyde/driver"
	"github.com/mr-fatalyst/oxyde/query/ir"
)

var (
	explainURL     string
	explainAnalyze bool
	explainJSON    bool
)

var explainCmd = &cobra.Command{
	Use:   "explain <ir.json>",
	Short: "Run EXPLAIN for a query IR file against a live database",
	Args:  cobra.ExactArgs(1),
	RunE:  runExplain,
}

func init() {
	explainCmd.Flags().StringVarP(&explainURL, "url", "u", "", "Connection URL (or OXYDE_DATABASE_URL)")
	explainCmd.Flags().BoolVar(&explainAnalyze, "analyze", false, "Use EXPLAIN ANALYZE where supported")
	explainCmd.Flags().BoolVar(&explainJSON, "json", false, "Request a JSON-format plan where supported")
	rootCmd.AddCommand(explainCmd)
}

func runExplain(cmd *cobra.Command, args []string) error {
	url := explainURL
	if url == "" {
		url = os.Getenv("OXYDE_DATABASE_URL")
	}
	if url == "" {
		return fmt.Errorf("no connection URL: pass --url or set OXYDE_DATABASE_URL")
	}

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
	q.Op = ir.OpExplain
	format := "text"
	if explainJSON {
		format = "json"
	}
	q.Explain = &ir.ExplainOptions{Analyze: explainAnalyze, Format: format}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reg := driver.NewRegistry()
	if err := reg.Register(ctx, "cli", url, driver.PoolSettings{}); err != nil {
		return err
	}
	defer reg.CloseAll(context.Background())

	res, err := reg.Execute(ctx, "cli", &q, 0)
	if err != nil {
		return err
	}

	if text, ok := res.Plan.(string); ok {
		fmt.Println(text)
		return nil
	}
	if rows, ok := res.Plan.([][]any); ok {
		table := pterm.TableData{res.Columns}
		for _, row := range rows {
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i] = fmt.Sprintf("%v", c)
			}
			table = append(table, cells)
		}
		return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
	}
	fmt.Printf("%v\n", res.Plan)
	return nil
}
