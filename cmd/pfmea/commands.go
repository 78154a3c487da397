package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/osvaldoandrade/pfmea/internal/backend"
	"github.com/osvaldoandrade/pfmea/internal/backoff"
	"github.com/osvaldoandrade/pfmea/internal/stubbackend"
	"github.com/osvaldoandrade/pfmea/pkg/domain"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

func optionsCmd(ui *ui) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "options",
		Short: "List form dropdown options",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := domain.Options()
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(opts)
			}
			types := make([]string, 0, len(opts.Types))
			for _, t := range opts.Types {
				types = append(types, string(t))
			}
			for _, group := range []struct {
				name   string
				values []string
			}{
				{"Countries", opts.Countries},
				{"Sites", opts.Sites},
				{"Models", opts.Models},
				{"Variants", opts.Variants},
				{"Production lines", opts.ProductionLines},
				{"PFMEA types", types},
			} {
				fmt.Println(ui.title(group.name))
				for _, v := range group.values {
					fmt.Printf("  %s\n", v)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func healthCmd(s *settings, ui *ui) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the analysis backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := backend.NewClient(s.baseURL, s.timeout, nil)
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Checking " + client.BaseURL() + "..."
			spin.Start()

			ctx := cmd.Context()
			attempts := 1
			if wait > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, wait)
				defer cancel()
				attempts = 0
			}
			var st *backend.HealthStatus
			err := backoff.Retry(ctx, backoff.PolicyEqualJitter, 250*time.Millisecond, 5*time.Second, attempts, func(attempt int) error {
				if attempt > 0 {
					spin.Suffix = fmt.Sprintf(" Waiting for %s (attempt %d)...", client.BaseURL(), attempt+1)
				}
				var herr error
				st, herr = client.Health(ctx)
				return herr
			})
			spin.Stop()
			if err != nil {
				return errors.New(domain.UserMessage(err))
			}
			fmt.Printf("%s %s %s\n", ui.ok("[OK]"), emptyOr(st.Status, "unknown"), ui.dim("version "+emptyOr(st.Version, "?")))
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "Keep retrying until the backend answers or this long has passed")
	return cmd
}

func stubCmd(s *settings, ui *ui) *cobra.Command {
	var (
		addr        string
		spreadsheet string
		delay       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Run the stub analysis backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine := stubbackend.NewEngine(stubbackend.Config{
				SpreadsheetPath: strings.TrimSpace(spreadsheet),
				Delay:           delay,
				Logger:          s.logger(),
			})
			srv := &http.Server{
				Addr:              addr,
				Handler:           engine,
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()
			fmt.Printf("%s Stub backend listening on %s\n", ui.info("[INFO]"), addr)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			fmt.Println(ui.warn("[WARN]"), "Stopping...")
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8000", "Listen address")
	cmd.Flags().StringVar(&spreadsheet, "spreadsheet", "Final_PFMEA.xlsx", "Spreadsheet served by /download_excel")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Artificial processing delay per call")
	return cmd
}
