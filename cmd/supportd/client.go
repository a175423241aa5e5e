package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/supportd/internal/chat"
	httpserver "github.com/fyrsmithlabs/supportd/internal/http"
)

// apiClient talks to a running daemon.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(timeout time.Duration) *apiClient {
	return &apiClient{base: strings.TrimRight(serverURL, "/"), http: &http.Client{Timeout: timeout}}
}

// do sends a JSON request and decodes a JSON response into out. Non-2xx
// responses are returned as errors unless out accepts them.
func (c *apiClient) do(ctx context.Context, method, path string, in, out any, accept ...int) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, code := range accept {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func newChatCmd() *cobra.Command {
	var (
		conversationID string
		stream         bool
		timeout        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send a support message to the daemon",
		Long: `Send a support message and print the response.

Examples:
  supportd chat "My payment failed twice"

  # Continue a conversation and show progress events
  supportd chat --conversation abc123 --stream "Any update?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := chat.Request{Message: strings.Join(args, " "), ConversationID: conversationID}
			client := newAPIClient(timeout)
			if stream {
				return client.stream(cmd, req)
			}
			var resp chat.Response
			if err := client.do(cmd.Context(), http.MethodPost, "/api/chat", req, &resp, http.StatusServiceUnavailable); err != nil {
				return err
			}
			printResponse(cmd.OutOrStdout(), &resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id to continue")
	cmd.Flags().BoolVar(&stream, "stream", false, "print progress events as they arrive")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "request timeout")
	return cmd
}

func printResponse(w io.Writer, resp *chat.Response) {
	fmt.Fprintln(w, resp.ResponseText)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "status:       %s\n", resp.Status)
	fmt.Fprintf(w, "conversation: %s\n", resp.ConversationID)
	if resp.TicketID != "" {
		fmt.Fprintf(w, "ticket:       %s\n", resp.TicketID)
	}
	if len(resp.AgentsUsed) > 0 {
		fmt.Fprintf(w, "agents:       %s\n", strings.Join(resp.AgentsUsed, ", "))
	}
	if resp.ErrorCode != "" {
		fmt.Fprintf(w, "error_code:   %s\n", resp.ErrorCode)
	}
	for _, n := range resp.Notes {
		fmt.Fprintf(w, "note:         %s\n", n)
	}
}

// stream prints SSE events until done.
func (c *apiClient) stream(cmd *cobra.Command, req chat.Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, c.base+"/api/chat/stream", bytes.NewReader(b))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	out := cmd.OutOrStdout()
	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if event == "message" {
				var final chat.Response
				if err := json.Unmarshal([]byte(data), &final); err == nil {
					fmt.Fprintln(out)
					printResponse(out, &final)
					continue
				}
			}
			fmt.Fprintf(out, "[%s] %s\n", event, data)
			if event == "done" {
				return nil
			}
		}
	}
	return scanner.Err()
}

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List or register capability providers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var agents []httpserver.AgentInfo
			if err := newAPIClient(30*time.Second).do(cmd.Context(), http.MethodGet, "/api/agents", nil, &agents); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(agents) == 0 {
				fmt.Fprintln(out, "no providers registered")
				return nil
			}
			for _, a := range agents {
				fmt.Fprintf(out, "%-20s %-30s %s\n", a.Name, a.Address, a.Description)
			}
			return nil
		},
	})

	var name string
	register := &cobra.Command{
		Use:   "register <address>",
		Short: "Register a provider by address",
		Long: `Register a provider. The daemon fetches its agent card before the name
becomes usable.

Examples:
  supportd agents register http://localhost:9101
  supportd agents register --name "Intent Agent" http://localhost:9102`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.RegisterResponse
			err := newAPIClient(30*time.Second).do(cmd.Context(), http.MethodPost, "/api/agents/register",
				httpserver.RegisterRequest{Address: args[0], Name: name}, &resp,
				http.StatusBadRequest, http.StatusBadGateway)
			if err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("registration failed: %s", resp.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s at %s\n", resp.AgentName, resp.Address)
			return nil
		},
	}
	register.Flags().StringVar(&name, "name", "", "override the provider name from its card")
	cmd.AddCommand(register)
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp httpserver.HealthResponse
			if err := newAPIClient(10*time.Second).do(cmd.Context(), http.MethodGet, "/health", nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status:  %s\n", resp.Status)
			fmt.Fprintf(out, "version: %s\n", resp.Version)
			fmt.Fprintf(out, "agents:  %d %v\n", resp.AgentsConnectedCount, resp.AgentNames)
			if resp.EventBus != "" {
				fmt.Fprintf(out, "events:  %s\n", resp.EventBus)
			}
			return nil
		},
	}
}
