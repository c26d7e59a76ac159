// Command runctl is the operator client for the engine API: start runs,
// inspect their progress and review pending breakpoints.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/VladislavFirsov/longrun/api"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	okColor      = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	failColor    = color.New(color.FgRed)
	successColor = color.New(color.FgGreen, color.Bold)
)

type client struct {
	baseURL string
	http    *http.Client
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr api.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func stateColor(state string) *color.Color {
	switch state {
	case "completed":
		return okColor
	case "suspended":
		return warnColor
	case "failed":
		return failColor
	default:
		return color.New(color.FgWhite)
	}
}

func printRun(run *api.RunResponse) {
	headerColor.Printf("Run %s\n", run.ID)
	fmt.Printf("  process: %s\n", run.Process)
	fmt.Printf("  state:   %s\n", stateColor(run.State).Sprint(run.State))
	if run.FailureReason != "" {
		fmt.Printf("  reason:  %s\n", failColor.Sprint(run.FailureReason))
	}
	if run.PendingBreakpoint != "" {
		fmt.Printf("  waiting: %s\n", warnColor.Sprint(run.PendingBreakpoint))
	}
	if len(run.Result) > 0 {
		data, _ := json.MarshalIndent(run.Result, "  ", "  ")
		fmt.Printf("  result:  %s\n", data)
	}
	if len(run.Effects) > 0 {
		fmt.Println("  effects:")
		for _, eff := range run.Effects {
			line := fmt.Sprintf("    [%06d] %-13s %-20s %s", eff.Seq, eff.Kind, eff.Name, eff.Status)
			switch eff.Status {
			case "succeeded":
				okColor.Println(line)
			case "failed":
				failColor.Println(line)
			default:
				warnColor.Println(line)
			}
		}
	}
}

func main() {
	var serverURL string
	c := &client{http: &http.Client{Timeout: 30 * time.Second}}

	root := &cobra.Command{
		Use:          "runctl",
		Short:        "Operator client for the durable execution engine",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			c.baseURL = strings.TrimSuffix(serverURL, "/")
		},
	}
	root.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8090", "engine API base URL")

	root.AddCommand(
		newStartCmd(c),
		newStatusCmd(c),
		newListCmd(c),
		newResumeCmd(c),
		newCancelCmd(c),
		newReviewCmd(c),
	)

	if err := root.Execute(); err != nil {
		failColor.Fprintln(os.Stderr, "runctl:", err)
		os.Exit(1)
	}
}

func newStartCmd(c *client) *cobra.Command {
	var runID string
	var inputsJSON string

	cmd := &cobra.Command{
		Use:   "start <process>",
		Short: "Start a run of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := map[string]any{}
			if inputsJSON != "" {
				if err := json.Unmarshal([]byte(inputsJSON), &inputs); err != nil {
					return fmt.Errorf("parsing --inputs: %w", err)
				}
			}
			var resp api.StartRunResponse
			err := c.do(cmd.Context(), http.MethodPost, "/api/v1/runs",
				api.StartRunRequest{ID: runID, Process: args[0], Inputs: inputs}, &resp)
			if err != nil {
				return err
			}
			successColor.Printf("started run %s\n", resp.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "id", "", "run id (generated when omitted)")
	cmd.Flags().StringVar(&inputsJSON, "inputs", "", "run inputs as a JSON object")
	return cmd
}

func newStatusCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run with its effects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var run api.RunResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/runs/"+args[0], nil, &run); err != nil {
				return err
			}
			printRun(&run)
			return nil
		},
	}
}

func newListCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var runs []api.RunResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/runs", nil, &runs); err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs")
				return nil
			}
			for _, run := range runs {
				fmt.Printf("%-38s %-24s %s\n", run.ID, run.Process, stateColor(run.State).Sprint(run.State))
			}
			return nil
		},
	}
}

func newResumeCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a suspended run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.StartRunResponse
			err := c.do(cmd.Context(), http.MethodPost, "/api/v1/runs/"+args[0]+"/resume", nil, &resp)
			if err != nil {
				return err
			}
			successColor.Printf("resumed run %s\n", resp.ID)
			return nil
		},
	}
}

func newCancelCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a suspended run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var run api.RunResponse
			err := c.do(cmd.Context(), http.MethodPost, "/api/v1/runs/"+args[0]+"/cancel", nil, &run)
			if err != nil {
				return err
			}
			warnColor.Printf("cancelled run %s\n", run.ID)
			return nil
		},
	}
}

func newReviewCmd(c *client) *cobra.Command {
	var approve, reject bool
	var answer, by string

	cmd := &cobra.Command{
		Use:   "review <run-id>",
		Short: "Show the pending breakpoint and optionally resolve it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]

			var bp api.BreakpointView
			if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/runs/"+runID+"/breakpoint", nil, &bp); err != nil {
				return err
			}

			headerColor.Printf("Breakpoint %s\n", bp.EffectID)
			if bp.Title != "" {
				fmt.Printf("  title:    %s\n", bp.Title)
			}
			fmt.Printf("  question: %s\n", warnColor.Sprint(bp.Question))
			if len(bp.Context) > 0 {
				data, _ := json.MarshalIndent(bp.Context, "  ", "  ")
				fmt.Printf("  context:  %s\n", data)
			}
			for _, art := range bp.Artifacts {
				fmt.Printf("  artifact: %s (%s)\n", art.Name, art.Path)
			}
			fmt.Printf("  state:    %s\n", bp.State)

			if !approve && !reject {
				return nil
			}
			if approve && reject {
				return fmt.Errorf("--approve and --reject are mutually exclusive")
			}

			path := fmt.Sprintf("/api/v1/runs/%s/breakpoints/%d/resolve", runID, bp.Seq)
			err := c.do(cmd.Context(), http.MethodPost, path,
				api.ResolveRequest{Approved: approve, Answer: answer, ResolvedBy: by}, nil)
			if err != nil {
				return err
			}
			if approve {
				successColor.Println("approved")
			} else {
				failColor.Println("rejected")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the breakpoint")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the breakpoint")
	cmd.Flags().StringVar(&answer, "answer", "", "free-form answer for the process body")
	cmd.Flags().StringVar(&by, "by", "", "reviewer identity")
	return cmd
}
