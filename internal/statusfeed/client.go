package statusfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Client talks to one printer's Moonraker API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rpcID      atomic.Int64
}

// Option configures a Client or Watcher.
type Option func(*Client)

// WithAPIKey sets the X-Api-Key header Moonraker checks when trusted clients
// are not configured.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a client for the Moonraker instance at baseURL
// (e.g. "http://10.0.0.5:7125").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the normalised base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// PrinterInfo is the result of printer.info.
type PrinterInfo struct {
	State           string `json:"state"`
	StateMessage    string `json:"state_message"`
	Hostname        string `json:"hostname"`
	SoftwareVersion string `json:"software_version"`
}

// PrintStatus is the subset of printer objects the feed cares about.
type PrintStatus struct {
	PrintStats struct {
		State         string  `json:"state"`
		Filename      string  `json:"filename"`
		PrintDuration float64 `json:"print_duration"`
		Message       string  `json:"message"`
	} `json:"print_stats"`
	DisplayStatus struct {
		Progress float64 `json:"progress"`
		Message  string  `json:"message"`
	} `json:"display_status"`
}

// statusObjects is the printer.objects.query payload used everywhere.
var statusObjects = map[string]any{"print_stats": nil, "display_status": nil}

// Info calls printer.info over JSON-RPC.
func (c *Client) Info(ctx context.Context) (*PrinterInfo, error) {
	var info PrinterInfo
	if err := c.call(ctx, "printer.info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Query fetches print_stats and display_status over REST.
func (c *Client) Query(ctx context.Context) (*PrintStatus, error) {
	var resp struct {
		Result struct {
			Status PrintStatus `json:"status"`
		} `json:"result"`
	}
	if err := c.getJSON(ctx, "/printer/objects/query?print_stats&display_status", &resp); err != nil {
		return nil, err
	}
	return &resp.Result.Status, nil
}

// FileInfo is one entry of server.files.list.
type FileInfo struct {
	Path     string  `json:"path"`
	Modified float64 `json:"modified"`
	Size     int64   `json:"size"`
}

// FileMetadata is the slicer metadata Moonraker extracts from a gcode file.
// Times are seconds.
type FileMetadata struct {
	Filename            string   `json:"filename"`
	Slicer              string   `json:"slicer"`
	EstimatedTime       float64  `json:"estimated_time"`
	HistoricalPrintTime *float64 `json:"historical_print_time,omitempty"`
	FilamentType        string   `json:"filament_type"`
	FilamentTotal       float64  `json:"filament_total"`
}

// Job is one entry of server.history.list. Times are Unix seconds,
// durations seconds.
type Job struct {
	JobID         string   `json:"job_id"`
	Filename      string   `json:"filename"`
	Status        string   `json:"status"`
	StartTime     float64  `json:"start_time"`
	EndTime       *float64 `json:"end_time"`
	TotalDuration float64  `json:"total_duration"`
	PrintDuration float64  `json:"print_duration"`
}

// JobCompleted is the history status of a job that finished normally.
const JobCompleted = "completed"

// ListFiles lists the files under the gcodes root.
func (c *Client) ListFiles(ctx context.Context) ([]FileInfo, error) {
	var files []FileInfo
	if err := c.call(ctx, "server.files.list", map[string]any{"root": "gcodes"}, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// FileMetadata fetches the metadata of one gcode file, by its path relative
// to the gcodes root.
func (c *Client) FileMetadata(ctx context.Context, filename string) (*FileMetadata, error) {
	var md FileMetadata
	if err := c.call(ctx, "server.files.metadata", map[string]any{"filename": filename}, &md); err != nil {
		return nil, err
	}
	if md.Filename == "" {
		md.Filename = filename
	}
	return &md, nil
}

// History returns up to limit jobs, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]Job, error) {
	var resp struct {
		Count int   `json:"count"`
		Jobs  []Job `json:"jobs"`
	}
	params := map[string]any{"limit": limit, "order": "desc"}
	if err := c.call(ctx, "server.history.list", params, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Check queries reachability and print state. Any failure yields an offline
// state carrying the error text rather than an error.
func (c *Client) Check(ctx context.Context, printerID string) PrinterState {
	st := PrinterState{PrinterID: printerID, UpdatedAt: time.Now()}
	info, err := c.Info(ctx)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	if info.State != "ready" {
		// Klippy in startup, shutdown or error: reachable host, not printable.
		st.Error = fmt.Sprintf("klippy %s: %s", info.State, strings.TrimSpace(info.StateMessage))
		return st
	}
	status, err := c.Query(ctx)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Online = true
	applyStatus(&st, status)
	return st
}

func applyStatus(st *PrinterState, s *PrintStatus) {
	st.PrintState = s.PrintStats.State
	st.Filename = s.PrintStats.Filename
	st.Progress = s.DisplayStatus.Progress
	st.Message = s.DisplayStatus.Message
	if st.Message == "" {
		st.Message = s.PrintStats.Message
	}
}

// --- HTTP helpers ---

// APIError is returned when Moonraker answers with an error status or a
// JSON-RPC error object.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("moonraker: rpc error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("moonraker: HTTP %d: %s", e.StatusCode, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID int64 `json:"id"`
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: c.rpcID.Add(1)})
	if err != nil {
		return fmt.Errorf("moonraker: marshal: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/server/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp rpcResponse
	if err := c.do(req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return &APIError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("moonraker: %s: decode: %w", method, err)
		}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("moonraker: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("moonraker: %s %s: decode: %w", req.Method, req.URL.Path, err)
		}
	}
	return nil
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var wrapped struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wrapped) == nil && wrapped.Error.Message != "" {
		apiErr.Code = wrapped.Error.Code
		apiErr.Message = wrapped.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
