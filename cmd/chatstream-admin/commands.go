// ABOUTME: Admin subcommands: health, queues, task, db init/reset, reconcile
// ABOUTME: Each command opens only the dependencies it needs and closes them

package main

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/streamkit/chatstream/internal/app"
	"github.com/streamkit/chatstream/internal/config"
	"github.com/streamkit/chatstream/internal/queue"
	"github.com/streamkit/chatstream/internal/store"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = app.ConfigPath()
	}
	return config.Load(path)
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database and Redis connectivity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			healthy := true

			st, err := app.OpenStore(ctx, cfg.Database)
			if err == nil {
				err = st.Ping(ctx)
				st.Close()
			}
			printCheck(cmd, "database", err)
			healthy = healthy && err == nil

			redisClient := app.RedisClient(cfg.Redis)
			err = redisClient.Ping(ctx).Err()
			redisClient.Close()
			printCheck(cmd, "redis", err)
			healthy = healthy && err == nil

			if !healthy {
				return errors.New("one or more checks failed")
			}
			return nil
		},
	}
}

func printCheck(cmd *cobra.Command, name string, err error) {
	if err != nil {
		cmd.Printf("%s %s %s\n", failStyle.Render("✗"), labelStyle.Render(name), dimStyle.Render(err.Error()))
		return
	}
	cmd.Printf("%s %s\n", okStyle.Render("✓"), labelStyle.Render(name))
}

func newQueuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Show task queue counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			inspector := queue.NewInspector(app.AsynqRedisOpt(cfg.Redis))
			defer inspector.Close()

			stats, err := inspector.Queues()
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				cmd.Println(dimStyle.Render("no queues yet"))
				return nil
			}

			for _, q := range stats {
				cmd.Printf("%s size=%d pending=%d active=%d completed=%d failed=%d\n",
					labelStyle.Render(q.Name), q.Size, q.Pending, q.Active, q.Completed, q.Failed)
			}
			return nil
		},
	}
}

func newTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "task <task-id>",
		Short: "Show a task's queue state and turn record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			taskID := args[0]
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			inspector := queue.NewInspector(app.AsynqRedisOpt(cfg.Redis))
			defer inspector.Close()

			status, err := inspector.TaskStatus(taskID)
			switch {
			case err == nil:
				cmd.Printf("%s %s\n", labelStyle.Render("queue state:"), status.State)
				if status.LastError != "" {
					cmd.Printf("%s %s\n", labelStyle.Render("last error:"), status.LastError)
				}
			case errors.Is(err, queue.ErrTaskNotFound):
				cmd.Println(dimStyle.Render("queue state: not found (retention expired or never enqueued)"))
			default:
				return err
			}

			st, err := app.OpenStore(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			turn, err := st.GetTurnByTaskID(ctx, taskID)
			if errors.Is(err, store.ErrNotFound) {
				cmd.Println(dimStyle.Render("turn: not found"))
				return nil
			}
			if err != nil {
				return err
			}

			cmd.Printf("%s %s\n", labelStyle.Render("turn status:"), turn.Status)
			cmd.Printf("%s %s\n", labelStyle.Render("conversation:"), turn.ConversationID)
			cmd.Printf("%s %d bytes\n", labelStyle.Render("content:"), len(turn.Content))
			if turn.Error != "" {
				cmd.Printf("%s %s\n", failStyle.Render("error:"), turn.Error)
			}
			return nil
		},
	}
}

// resettable is satisfied by both store implementations.
type resettable interface {
	Reset(ctx context.Context) error
}

func newDBCmd() *cobra.Command {
	db := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}

	db.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the schema if it does not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			// Opening the store creates the schema.
			st, err := app.OpenStore(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			cmd.Println(okStyle.Render("✓"), "schema ready")
			return nil
		},
	})

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate all tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			confirmed, _ := cmd.Flags().GetBool("yes")
			if !confirmed {
				return errors.New("refusing to reset without --yes")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, err := app.OpenStore(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			r, ok := st.(resettable)
			if !ok {
				return errors.New("store does not support reset")
			}
			if err := r.Reset(ctx); err != nil {
				return err
			}

			cmd.Println(okStyle.Render("✓"), "database reset")
			return nil
		},
	}
	reset.Flags().Bool("yes", false, "confirm destructive reset")
	db.AddCommand(reset)

	return db
}

func newReconcileCmd() *cobra.Command {
	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Fail turns abandoned by crashed or missing workers",
		Long:  "Marks non-terminal turns older than --max-age as failed. Run this when workers crashed or a dispatch never reached the queue; it never touches turns still being updated.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			maxAge, _ := cmd.Flags().GetDuration("max-age")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, err := app.OpenStore(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			swept, err := st.FailStaleTurns(ctx, time.Now().Add(-maxAge))
			if err != nil {
				return err
			}

			if swept == 0 {
				cmd.Println(dimStyle.Render("nothing to reconcile"))
				return nil
			}
			cmd.Printf("%s failed %d stale turn(s)\n", okStyle.Render("✓"), swept)
			return nil
		},
	}
	reconcile.Flags().Duration("max-age", 10*time.Minute, "age beyond which a non-terminal turn is considered abandoned")
	return reconcile
}
