package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/switchboard/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	State         string `json:"state"`
	Version       uint64 `json:"version"`
	Operations    int    `json:"operations"`
}

type operationInfo struct {
	Name        string   `json:"name"`
	Parameters  []string `json:"parameters"`
	ReturnType  string   `json:"returnType"`
	Description string   `json:"description"`
}

type operationsMsg struct {
	Version    uint64          `json:"version"`
	Operations []operationInfo `json:"operations"`
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// Client talks to the switchboard API.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func (c Client) request(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.BaseURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	return req, nil
}

func (c Client) getJSON(path string, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := c.request(ctx, path)
	if err != nil {
		return err
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- Commands ---

// subscribeToEvents connects to the SSE /events endpoint and feeds events
// into ch. Returns sseDisconnectedMsg when the connection drops.
func subscribeToEvents(c Client, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := c.request(context.Background(), "/events")
		if err != nil {
			return errMsg(err)
		}

		resp, err := (&http.Client{}).Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("GET /events: %s", resp.Status))
		}

		readSSE(bufio.NewScanner(resp.Body), ch)
		return sseDisconnectedMsg{}
	}
}

// readSSE parses an event stream until the scanner stops.
func readSSE(scanner *bufio.Scanner, ch chan<- events.Event) {
	var cur events.Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(cur.Data) > 0 {
				cur.At = time.Now()
				ch <- cur
			}
			cur = events.Event{}
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			cur.Data = []byte(line[6:])
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(c Client) tea.Msg {
	var h healthMsg
	if err := c.getJSON("/healthz", &h); err != nil {
		return errMsg(err)
	}
	return h
}

// fetchOperations queries the /operations endpoint.
func fetchOperations(c Client) tea.Msg {
	var ops operationsMsg
	if err := c.getJSON("/operations", &ops); err != nil {
		return errMsg(err)
	}
	return ops
}
