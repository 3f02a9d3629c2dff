package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// ListProcesses fetches the full process list, including state and metadata.
func (c *Client) ListProcesses(ctx context.Context) ([]Process, error) {
	var processes []Process
	err := c.Do(ctx, http.MethodGet, "/api/v3/process?filter=state,metadata,config", nil, &processes)
	c.record("list_processes", err)
	if err != nil {
		return nil, err
	}
	return processes, nil
}

// GetProcess fetches a single process by id.
func (c *Client) GetProcess(ctx context.Context, id string) (Process, error) {
	var process Process
	err := c.Do(ctx, http.MethodGet, "/api/v3/process/"+url.PathEscape(id), nil, &process)
	c.record("get_process", err)
	return process, err
}

// CreateProcess submits a new process resource.
func (c *Client) CreateProcess(ctx context.Context, cfg ProcessConfig) error {
	err := c.Do(ctx, http.MethodPost, "/api/v3/process", cfg, nil)
	c.record("create_process", err)
	return err
}

// UpdateProcess replaces an existing process resource.
func (c *Client) UpdateProcess(ctx context.Context, id string, cfg ProcessConfig) error {
	err := c.Do(ctx, http.MethodPut, "/api/v3/process/"+url.PathEscape(id), cfg, nil)
	c.record("update_process", err)
	return err
}

// DeleteProcess removes a process resource.
func (c *Client) DeleteProcess(ctx context.Context, id string) error {
	err := c.Do(ctx, http.MethodDelete, "/api/v3/process/"+url.PathEscape(id), nil, nil)
	c.record("delete_process", err)
	return err
}

// SetMetadata stores an arbitrary document under the given metadata namespace
// on a process.
func (c *Client) SetMetadata(ctx context.Context, id, namespace string, value interface{}) error {
	path := fmt.Sprintf("/api/v3/process/%s/metadata/%s", url.PathEscape(id), url.PathEscape(namespace))
	err := c.Do(ctx, http.MethodPut, path, value, nil)
	c.record("put_metadata", err)
	return err
}

// GetMetadata fetches the document stored under the given metadata namespace.
func (c *Client) GetMetadata(ctx context.Context, id, namespace string) (json.RawMessage, error) {
	path := fmt.Sprintf("/api/v3/process/%s/metadata/%s", url.PathEscape(id), url.PathEscape(namespace))
	var doc json.RawMessage
	err := c.Do(ctx, http.MethodGet, path, nil, &doc)
	c.record("get_metadata", err)
	return doc, err
}

// Command sends a start/stop order to a process.
func (c *Client) Command(ctx context.Context, id, command string) error {
	path := fmt.Sprintf("/api/v3/process/%s/command", url.PathEscape(id))
	err := c.Do(ctx, http.MethodPut, path, map[string]string{"command": command}, nil)
	c.record("command", err)
	return err
}

// GetProcessState fetches the runtime state of a process.
func (c *Client) GetProcessState(ctx context.Context, id string) (ProcessState, error) {
	var state ProcessState
	err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/api/v3/process/%s/state", url.PathEscape(id)), nil, &state)
	c.record("get_state", err)
	return state, err
}

// PutFile writes a file into the named engine filesystem. Some recording
// backends require the target path to exist before a process writes to it.
func (c *Client) PutFile(ctx context.Context, storage, path string, data []byte) error {
	_, err := c.Raw(ctx, http.MethodPut, fsPath(storage, path), data, "application/data")
	c.record("put_file", err)
	return err
}

// GetFile reads a file from the named engine filesystem.
func (c *Client) GetFile(ctx context.Context, storage, path string) ([]byte, error) {
	data, err := c.Raw(ctx, http.MethodGet, fsPath(storage, path), nil, "")
	c.record("get_file", err)
	return data, err
}

// DeleteFile removes a file from the named engine filesystem.
func (c *Client) DeleteFile(ctx context.Context, storage, path string) error {
	_, err := c.Raw(ctx, http.MethodDelete, fsPath(storage, path), nil, "")
	c.record("delete_file", err)
	return err
}

// Metrics fetches the engine metrics document.
func (c *Client) Metrics(ctx context.Context, query interface{}) (json.RawMessage, error) {
	var doc json.RawMessage
	method := http.MethodGet
	if query != nil {
		method = http.MethodPost
	}
	err := c.Do(ctx, method, "/api/v3/metrics", query, &doc)
	c.record("metrics", err)
	return doc, err
}

// ActiveSessions fetches the engine's active session summary.
func (c *Client) ActiveSessions(ctx context.Context) (json.RawMessage, error) {
	var doc json.RawMessage
	err := c.Do(ctx, http.MethodGet, "/api/v3/session/active", nil, &doc)
	c.record("active_sessions", err)
	return doc, err
}

func fsPath(storage, path string) string {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	return fmt.Sprintf("/api/v3/fs/%s/%s", url.PathEscape(storage), path)
}
