package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-liveness/internal/httpc"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show a running server's challenge, stats and sessions",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("server", "http://localhost:8090", "Liveness server base URL")
	statusCmd.Flags().String("locale", "", "Show prompts in this locale")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), httpc.DefaultTimeout)
	defer cancel()

	client := httpc.New(mustGetString(cmd, "server"), nil)
	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("server unhealthy: %w", err)
	}

	if len(args) == 1 {
		return printSession(ctx, client, args[0])
	}

	def, err := client.Challenge(ctx, mustGetString(cmd, "locale"))
	if err != nil {
		return err
	}
	fmt.Printf("Challenge: hold %s, yaw band %.1f°, smile floor %.2f\n",
		time.Duration(def.HoldMs)*time.Millisecond, def.YawBand, def.SmileFloor)
	for i, t := range def.Tasks {
		fmt.Printf("  %d. %-14s %s\n", i+1, t.Kind, t.Prompt)
	}

	stats, err := client.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nSessions: %d active, %d opened, %d completed\n",
		stats.ActiveSessions, stats.SessionsOpened, stats.SessionsCompleted)
	fmt.Printf("Frames:   %d received, %d rejected, %d rate limited\n",
		stats.FramesReceived, stats.FramesRejected, stats.FramesDropped)
	fmt.Printf("Dashboards: %d\n", stats.DashboardClients)

	sessions, err := client.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONNECTED\tFRAMES\tCOMPLETED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", s.ID, s.Connected.Format(time.RFC3339), s.Frames, s.Completed)
	}
	return w.Flush()
}

func printSession(ctx context.Context, client *httpc.Client, id string) error {
	info, err := client.Session(ctx, id)
	if err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	fmt.Printf("Session:   %s\n", info.ID)
	fmt.Printf("Connected: %s\n", info.Connected.Format(time.RFC3339))
	fmt.Printf("Last seen: %s\n", info.LastSeen.Format(time.RFC3339))
	fmt.Printf("Frames:    %d\n", info.Frames)
	if st := info.State; st != nil {
		fmt.Printf("Task:      %d/%d %s (%q)\n", st.Index+1, st.TaskCount, st.Task.Kind, st.Task.Prompt)
		fmt.Printf("Running:   %t  completed: %t  timer: %t\n", st.Running, st.Completed, st.TimerPending)
	}
	return nil
}
