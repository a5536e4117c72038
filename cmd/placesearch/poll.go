package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/export"
	"github.com/JakeFAU/places-search/internal/poller"
	"github.com/JakeFAU/places-search/internal/search"
)

type pollOptions struct {
	owner     string
	jobID     string
	format    string
	out       string
	phoneOnly bool
}

func newPollCmd() *cobra.Command {
	var opts pollOptions
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Watch the active job and export it when it completes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				rt.cfg.Poller.Interval, _ = cmd.Flags().GetDuration("interval")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runPoll(ctx, rt, opts)
		},
	}
	cmd.Flags().StringVar(&opts.owner, "owner", "", "owner to poll (defaults to the persisted session id)")
	cmd.Flags().StringVar(&opts.jobID, "job", "", "job to watch instead of the automatic choice; its owner is polled")
	cmd.Flags().StringVar(&opts.format, "export-format", "csv", "csv, json or xlsx")
	cmd.Flags().StringVar(&opts.out, "out", ".", "directory for the export file")
	cmd.Flags().BoolVar(&opts.phoneOnly, "phone-only", false, "export only places with a phone number")
	cmd.Flags().Duration("interval", 0, "override poller.interval")
	return cmd
}

func runPoll(ctx context.Context, rt *runtime, opts pollOptions) error {
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	apiKey := ""
	if rt.cfg.Auth.Enabled {
		apiKey = rt.cfg.Auth.APIKey
	}
	client, err := poller.NewClient(poller.ClientConfig{BaseURL: rt.cfg.Poller.APIBaseURL, APIKey: apiKey})
	if err != nil {
		return err
	}

	owner, err := poller.OwnerForJob(ctx, client, opts.owner, opts.jobID)
	if err != nil {
		return err
	}
	if owner == "" {
		owner, err = poller.LoadOrCreateSession(rt.cfg.Poller.SessionFile)
		if err != nil {
			return err
		}
	}

	logger := rt.logger.Named("poll").With(zap.String("owner", owner))
	done := make(chan search.Job, 1)
	var p *poller.Poller
	p, err = poller.New(client, poller.Config{
		Owner:    owner,
		Interval: rt.cfg.Poller.Interval,
		OnRefresh: func([]search.Job) {
			job, ok := p.Active()
			if !ok {
				logger.Info("no jobs for owner yet")
				return
			}
			logger.Info("active job",
				zap.String("job_id", job.ID),
				zap.String("status", string(job.Status)),
				zap.String("city", job.Progress.CurrentCity),
				zap.Int("percentage", job.Progress.Percentage),
				zap.Int("found", job.Progress.CurrentResultCount),
			)
			if job.Status.IsTerminal() {
				select {
				case done <- job:
				default:
				}
			}
		},
	}, rt.logger)
	if err != nil {
		return err
	}
	if opts.jobID != "" {
		p.Select(opts.jobID)
	}
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Stop()

	var job search.Job
	select {
	case <-ctx.Done():
		return nil
	case job = <-done:
	}
	if job.Status == search.JobStatusFailed {
		msg := ""
		if job.ErrorMessage != nil {
			msg = *job.ErrorMessage
		}
		return fmt.Errorf("job %s failed: %s", job.ID, msg)
	}
	return writeExport(p, job, export.Options{Format: format, PhoneOnly: opts.phoneOnly}, opts.out, logger)
}

func writeExport(p *poller.Poller, job search.Job, opts export.Options, dir string, logger *zap.Logger) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, export.Filename(job.ID, opts.Format))
	// #nosec G304 -- output path is chosen by the operator.
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := p.Export(f, job.ID, opts); err != nil {
		_ = f.Close()
		return fmt.Errorf("export job %s: %w", job.ID, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	logger.Info("export written", zap.String("job_id", job.ID), zap.String("path", path),
		zap.Int("total_found", job.TotalFound))
	return nil
}
