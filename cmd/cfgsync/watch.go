package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cfgsync/internal/engine"
	"cfgsync/internal/journal"
	"cfgsync/internal/metrics"
	"cfgsync/internal/patchset"
	"cfgsync/internal/version"
	"cfgsync/internal/watch"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func watchCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "watch FILE",
		Short: "Print a patch each time FILE is saved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, _ := cmd.Flags().GetBool("journal")
			addr, _ := cmd.Flags().GetString("metrics-addr")
			debounce, _ := cmd.Flags().GetDuration("debounce")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			m := metrics.New(reg, cfg.Metrics.Namespace)
			if addr != "" {
				srv := &http.Server{
					Addr:              addr,
					Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server failed", zap.Error(err))
					}
				}()
				defer srv.Close()
			}

			var j *journal.Journal
			if record {
				db, opened, err := openJournal()
				if err != nil {
					return err
				}
				defer db.Close()
				j = opened
			}

			w, err := watch.New(args[0], watch.Options{
				Engine: engine.Options{
					ConfigSection: cfg.Patch.ConfigSection,
					WithDigest:    cfg.Patch.Digest,
					FeatureSet:    cfg.FeatureSet,
					Lazy:          cfg.Patch.Lazy,
					Privileged:    cfg.ACL.Privileged,
				},
				Format:     patchset.Format(cfg.Patch.Format),
				Debounce:   debounce,
				Logger:     logger.Named("watch"),
				User:       cfg.ACL.User,
				EnforceACL: cfg.ACL.Enforce,
			})
			if err != nil {
				return err
			}
			defer w.Close()
			m.SetVersion(version.FromNode(w.Current().Root(), 0))

			done := make(chan error, 1)
			go func() { done <- w.Run(ctx) }()

			fmt.Printf("Watching %s\n", args[0])
			for p := range w.Patches() {
				m.RecordGenerated(p.Format().String())
				_, target := p.Versions()
				m.SetVersion(target)

				printPatchLog(p)
				fmt.Println()
				if j != nil {
					if _, err := j.Append(p); err != nil {
						logger.Warn("could not journal patch", zap.String("patch", patchset.Summary(p)), zap.Error(err))
					}
				}
			}

			if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().Bool("journal", false, "Append each patch to the journal")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().Duration("debounce", 200*time.Millisecond, "Wait this long for writes to settle")
	return cmd
}
