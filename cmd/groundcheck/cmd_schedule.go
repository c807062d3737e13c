package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/contestra/ai-ranker-sub001/schedule"
)

func newScheduleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled grounding checks",
	}
	cmd.AddCommand(
		newScheduleSyncCmd(a),
		newScheduleTickCmd(a),
		newScheduleRunsCmd(a),
	)
	return cmd
}

func (a *app) openStore() (*schedule.Store, error) {
	return schedule.Open(a.cfg.Schedule.Database)
}

func (a *app) scheduler(store *schedule.Store) (*schedule.Scheduler, func(), error) {
	builder, err := a.ambientBuilder()
	if err != nil {
		return nil, nil, err
	}
	opts := []schedule.Option{
		schedule.WithAmbient(builder),
		schedule.WithLease(a.cfg.Schedule.Lease),
		schedule.WithOwner(a.cfg.Schedule.Owner),
		schedule.WithLogger(a.logger),
	}

	cleanup := func() {}
	if rc := a.cfg.Schedule.Redis; rc.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		cleanup = func() { _ = client.Close() }
		opts = append(opts, schedule.WithGuard(schedule.NewRedisGuard(client, schedule.WithTTL(rc.TTL))))
	}
	return schedule.New(store, opts...), cleanup, nil
}

func newScheduleSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Store the jobs from the config file, due now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			now := time.Now().UTC().Truncate(time.Minute)
			for _, job := range a.cfg.Schedule.Jobs {
				if err := store.PutSchedule(cmd.Context(), job, now); err != nil {
					return fmt.Errorf("storing job %s: %w", job.ID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d job(s) stored\n", len(a.cfg.Schedule.Jobs))
			return nil
		},
	}
}

func newScheduleTickCmd(a *app) *cobra.Command {
	var (
		dispatch bool
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Expand due schedules into queued runs, optionally running them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			sch, cleanup, err := a.scheduler(store)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := sch.Tick(cmd.Context())
			if err != nil {
				return err
			}
			out := map[string]any{"tick": report}

			if dispatch {
				engine, err := a.engine()
				if err != nil {
					return err
				}
				n, err := sch.Dispatch(cmd.Context(), engine, limit, a.batchOptions())
				if err != nil {
					return err
				}
				out["dispatched"] = n
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&dispatch, "dispatch", false, "run queued checks after the tick")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum runs to dispatch")
	return cmd
}

func newScheduleRunsCmd(a *app) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Runs(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tSCHEDULE\tSCHEDULED AT\tCOUNTRY\tSTATUS\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.RunID, r.ScheduleID, r.ScheduledAt.Format(time.RFC3339), r.Country, r.Status, r.ErrorCode)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (queued, running, ok, failed)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	return cmd
}
