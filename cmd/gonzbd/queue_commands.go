package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/datallboy/gonzbd/internal/api/controllers"
	"github.com/datallboy/gonzbd/internal/infra/config"
)

// apiClient talks to a running daemon's HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(configPath, host string) *apiClient {
	if host == "" {
		port := "8092"
		if cfg, err := config.Load(configPath); err == nil {
			port = cfg.Port
		}
		host = "127.0.0.1:" + port
	}
	return &apiClient{
		base: "http://" + host,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(method, path string, body io.Reader, out any) error {
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var op controllers.OpResponse
		if json.Unmarshal(data, &op) == nil && op.Reason != "" {
			return fmt.Errorf("%s", op.Reason)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func newQueueCommand(configPath, host *string) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the download queue",
	}

	queueCmd.AddCommand(newQueueListCommand(configPath, host))
	queueCmd.AddCommand(newQueueAddCommand(configPath, host))
	queueCmd.AddCommand(newQueueRemoveCommand(configPath, host))
	queueCmd.AddCommand(newQueueMoveCommand(configPath, host, "front", "Move an item to the front"))
	queueCmd.AddCommand(newQueueMoveCommand(configPath, host, "back", "Move an item to the back"))
	queueCmd.AddCommand(newQueueShiftCommand(configPath, host, "up", "Move an item up"))
	queueCmd.AddCommand(newQueueShiftCommand(configPath, host, "down", "Move an item down"))
	queueCmd.AddCommand(newQueueIndexCommand(configPath, host))

	return queueCmd
}

func newQueueListCommand(configPath, host *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued items",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp controllers.QueueResponse
			if err := newAPIClient(*configPath, *host).do(http.MethodGet, "/api/queue", nil, &resp); err != nil {
				return err
			}
			if resp.Paused {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is PAUSED")
			}
			if len(resp.Queue) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}
			for i, entry := range resp.Queue {
				fmt.Fprintf(cmd.OutOrStdout(), "%3d  [%d] %s\n", i, entry.ID, entry.Name)
			}
			return nil
		},
	}
}

func newQueueAddCommand(configPath, host *string) *cobra.Command {
	var front bool

	cmd := &cobra.Command{
		Use:   "add <file.nzb>",
		Short: "Enqueue a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			q := url.Values{}
			q.Set("name", filepath.Base(args[0]))
			if front {
				q.Set("front", "true")
			}

			var resp controllers.OpResponse
			if err := newAPIClient(*configPath, *host).do(http.MethodPost, "/api/queue?"+q.Encode(), f, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued [%d] %s\n", resp.ID, filepath.Base(args[0]))
			return nil
		},
	}
	cmd.Flags().BoolVar(&front, "front", false, "Place the item at the front of the queue")
	return cmd
}

func newQueueRemoveCommand(configPath, host *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>[,<id>...]",
		Short: "Remove queued items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient(*configPath, *host).do(http.MethodDelete, "/api/queue/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Removed")
			return nil
		},
	}
}

func newQueueMoveCommand(configPath, host *string, where, short string) *cobra.Command {
	return &cobra.Command{
		Use:   where + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			path := fmt.Sprintf("/api/queue/%d/%s", id, where)
			if err := newAPIClient(*configPath, *host).do(http.MethodPost, path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Moved")
			return nil
		},
	}
}

func newQueueShiftCommand(configPath, host *string, dir, short string) *cobra.Command {
	var shift int

	cmd := &cobra.Command{
		Use:   dir + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			path := fmt.Sprintf("/api/queue/%d/%s?shift=%d", id, dir, shift)
			if err := newAPIClient(*configPath, *host).do(http.MethodPost, path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Moved")
			return nil
		},
	}
	cmd.Flags().IntVar(&shift, "shift", 1, "Number of positions to move")
	return cmd
}

func newQueueIndexCommand(configPath, host *string) *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <index>",
		Short: "Move an item to a position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[1])
			}
			path := fmt.Sprintf("/api/queue/%d/index/%d", id, index)
			if err := newAPIClient(*configPath, *host).do(http.MethodPost, path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Moved")
			return nil
		},
	}
}

func newPauseCommand(configPath, host *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause activating new downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient(*configPath, *host).do(http.MethodPost, "/api/pause", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Paused")
			return nil
		},
	}
}

func newResumeCommand(configPath, host *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume activating new downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient(*configPath, *host).do(http.MethodPost, "/api/resume", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Resumed")
			return nil
		},
	}
}

func newHistoryCommand(configPath, host *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent archive events",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp controllers.HistoryResponse
			path := fmt.Sprintf("/api/history?limit=%d", limit)
			if err := newAPIClient(*configPath, *host).do(http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			if len(resp.Events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No events recorded")
				return nil
			}
			for _, ev := range resp.Events {
				line := fmt.Sprintf("%s  %-10s %s", ev.CreatedAt.Format(time.DateTime), ev.Event, ev.Archive)
				if ev.Detail != "" {
					line += " (" + ev.Detail + ")"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events")
	return cmd
}
