package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mr-fatalyst/oxyde/driver"
)

var pingURL string

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check connectivity for a connection URL",
	RunE:  runPing,
}

func init() {
	pingCmd.Flags().StringVarP(&pingURL, "url", "u", "", "Connection URL (or OXYDE_DATABASE_URL)")
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	url := pingURL
	if url == "" {
		url = os.Getenv("OXYDE_DATABASE_URL")
	}
	if url == "" {
		return fmt.Errorf("no connection URL: pass --url or set OXYDE_DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reg := driver.NewRegistry()
	start := time.Now()
	if err := reg.Register(ctx, "cli", url, driver.PoolSettings{}); err != nil {
		color.Red("✗ %v", err)
		return err
	}
	defer reg.CloseAll(context.Background())

	pool, err := reg.Pool("cli")
	if err != nil {
		return err
	}
	if err := pool.DB().PingContext(ctx); err != nil {
		color.Red("✗ %v", err)
		return err
	}
	color.Green("✓ %s reachable in %s (returning=%v)",
		pool.Dialect(), time.Since(start).Round(time.Millisecond), pool.Capabilities().Returning)
	return nil
}
