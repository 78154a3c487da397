package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/osvaldoandrade/pfmea/internal/backend"
	"github.com/osvaldoandrade/pfmea/internal/pipeline"
	"github.com/osvaldoandrade/pfmea/internal/services"
	"github.com/osvaldoandrade/pfmea/pkg/domain"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var pipelineSteps = []domain.Step{
	domain.StepPreparing,
	domain.StepIngest,
	domain.StepAnalyze,
	domain.StepRender,
	domain.StepExport,
}

func submitCmd(s *settings, ui *ui) *cobra.Command {
	var (
		form      domain.FormState
		pfmeaType string
		mbomPath  string
		flowPath  string
		outPath   string
		htmlPath  string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Run a PFMEA analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			form.Type = domain.Category(pfmeaType)
			var err error
			if form.MBOMFile, err = readUpload(mbomPath); err != nil {
				return err
			}
			if form.FlowDiagramFile, err = readUpload(flowPath); err != nil {
				return err
			}
			if err := pipeline.Validate(form); err != nil {
				return errors.New(domain.UserMessage(err))
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			client := backend.NewClient(s.baseURL, s.timeout, nil)
			p := pipeline.New(client, s.logger(), nil)
			observe, finish := stepReporter(ui, os.Stdout, isTerminal(int(os.Stdout.Fd())))
			out, err := p.Run(ctx, form, observe)
			finish()
			if err != nil && ctx.Err() != nil {
				fmt.Fprintln(os.Stderr, ui.warn("[WARN]"), "Analysis cancelled")
				return errors.New("analysis cancelled")
			}
			if err != nil {
				kind := domain.KindOf(err)
				fmt.Fprintf(os.Stderr, "%s %s\n", ui.err("["+emptyOr(string(kind), "Error")+"]"), domain.UserMessage(err))
				return fmt.Errorf("analysis failed")
			}

			if err := os.WriteFile(outPath, out.Spreadsheet, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			if htmlPath != "" {
				if err := os.WriteFile(htmlPath, []byte(out.HTML), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", htmlPath, err)
				}
			}

			res := domain.SubmissionResult{Metadata: out.Metadata}
			fmt.Printf("%s Analysis complete\n", ui.ok("[OK]"))
			fmt.Printf("  %s %s\n", ui.dim("PFMEA Number:   "), emptyOr(res.DocumentNumber(), "-"))
			fmt.Printf("  %s %s\n", ui.dim("Variant:        "), emptyOr(res.Variant(), "-"))
			fmt.Printf("  %s %s\n", ui.dim("Production Line:"), emptyOr(res.ProductionLine(), "-"))
			fmt.Printf("  %s %s (%d bytes)\n", ui.dim("Report:         "), outPath, len(out.Spreadsheet))
			if htmlPath != "" {
				fmt.Printf("  %s %s\n", ui.dim("HTML preview:   "), htmlPath)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&form.Country, "country", "", "Country")
	f.StringVar(&form.Site, "site", "", "Site / plant")
	f.StringVar(&form.Model, "model", "", "Vehicle model")
	f.StringVar(&form.Variant, "variant", "", "Variant (family code)")
	f.StringVar(&form.ProductionLine, "production-line", "", "Production line (workcenter)")
	f.StringVar(&form.PFMEANumber, "pfmea-number", "", "PFMEA document number")
	f.StringVar(&form.Revision, "revision", "", "Revision")
	f.StringVar(&form.ProcessResponsibility, "process-responsibility", "", "Process responsibility")
	f.StringVar(&form.CoreTeam, "core-team", "", "Core team")
	f.StringVar(&form.PreparedBy, "prepared-by", "", "Prepared by")
	f.StringVar(&form.ApprovedBy, "approved-by", "", "Approved by")
	f.StringVar(&pfmeaType, "type", "", `PFMEA type: "Pre-Launch PFMEA" or "Production PFMEA"`)
	f.StringVar(&mbomPath, "mbom", "", "MBOM file")
	f.StringVar(&flowPath, "flow-diagram", "", "Process flow diagram (required for Production PFMEA)")
	f.StringVar(&outPath, "out", services.ReportName, "Spreadsheet output path")
	f.StringVar(&htmlPath, "html", "", "Optional HTML report output path")
	return cmd
}

func readUpload(path string) (*domain.File, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &domain.File{Name: filepath.Base(path), Content: b}, nil
}

// stepReporter renders pipeline progress to w as a bar on terminals and as
// one line per step otherwise.
func stepReporter(ui *ui, w io.Writer, tty bool) (pipeline.Observer, func()) {
	if !tty {
		return func(step domain.Step) {
			fmt.Fprintf(w, "%s %s\n", ui.info("[INFO]"), step.Caption())
		}, func() {}
	}
	bar := progressbar.NewOptions(len(pipelineSteps),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(domain.StepPreparing.Caption()),
		progressbar.OptionSetWidth(24),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	seen := 0
	observe := func(step domain.Step) {
		bar.Describe(step.Caption())
		if seen > 0 {
			_ = bar.Add(1)
		}
		seen++
	}
	return observe, func() { _ = bar.Finish() }
}
