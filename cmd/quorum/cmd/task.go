package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var taskGatewayAddr string

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Drive individual tasks against a running engine",
	Long: `Cancel, merge, or retry a task on a running 'quorum serve' instance.

Unlike 'quorum project', these operations touch live worker state (the
assigned container, the worktree lock) that only the running engine
holds, so they're issued over the Gateway's REST API rather than the
on-disk store directly.`,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <project-id> <task-id>",
	Short: "Cancel a running or queued task",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskCancel,
}

var taskRetryCmd = &cobra.Command{
	Use:   "retry <project-id> <task-id>",
	Short: "Re-queue a failed task for another attempt",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskRetry,
}

var taskMergeSquash bool

var taskMergeCmd = &cobra.Command{
	Use:   "merge <project-id> <task-id>",
	Short: "Merge a completed task's worktree back into its base branch",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskMerge,
}

var taskChatCmd = &cobra.Command{
	Use:   "chat <project-id> <task-id> <message>",
	Short: "Send a refinement message to a task's plan conversation",
	Long: `Send a message to the Plan Service for a plan_pending task, asking it to
revise the plan in light of the message. Blocks until the agent responds,
since the refined plan is the call's only observable result.`,
	Args: cobra.ExactArgs(3),
	RunE: runTaskChat,
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.PersistentFlags().StringVar(&taskGatewayAddr, "gateway-addr", "http://localhost:7733",
		"address of the running gateway")

	taskMergeCmd.Flags().BoolVar(&taskMergeSquash, "squash", false, "squash the task's commits when merging")

	taskCmd.AddCommand(taskCancelCmd, taskRetryCmd, taskMergeCmd, taskChatCmd)
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	return taskAction(cmd, args[0], args[1], "cancel", nil)
}

func runTaskRetry(cmd *cobra.Command, args []string) error {
	return taskAction(cmd, args[0], args[1], "retry", nil)
}

func runTaskMerge(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(map[string]bool{"squash": taskMergeSquash})
	if err != nil {
		return err
	}
	return taskAction(cmd, args[0], args[1], "merge", body)
}

func runTaskChat(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(map[string]string{"message": args[2]})
	if err != nil {
		return err
	}
	return taskActionTimeout(cmd, args[0], args[1], "chat", body, 6*time.Minute)
}

// taskAction POSTs to the Gateway's /api/v1/projects/{projectID}/tasks/{taskID}/{action}
// endpoint, which replies 204 on success or a JSON {error,message} body otherwise.
func taskAction(cmd *cobra.Command, projectID, taskID, action string, body []byte) error {
	return taskActionTimeout(cmd, projectID, taskID, action, body, 30*time.Second)
}

func taskActionTimeout(cmd *cobra.Command, projectID, taskID, action string, body []byte, timeout time.Duration) error {
	url := fmt.Sprintf("%s/api/v1/projects/%s/tasks/%s/%s", taskGatewayAddr, projectID, taskID, action)

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("contacting gateway at %s: %w", taskGatewayAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		fmt.Printf("%s: %s\n", taskID, action)
		return nil
	}

	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return fmt.Errorf("%s: %s", apiErr.Error, apiErr.Message)
}
