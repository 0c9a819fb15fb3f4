package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-notes/inkwell/internal/records"
)

var (
	// ErrUnauthorized indicates the server refused the sync key. Nothing was
	// applied on either side beyond whatever the server committed before
	// rejecting, which for an auth failure is nothing.
	ErrUnauthorized = errors.New("exchange: sync key rejected")

	errMissingServerURL = errors.New("server url is required")
	errMissingSyncKey   = errors.New("sync key is required")
)

const defaultRequestTimeout = 30 * time.Second

// ClientConfig describes a sync client bound to one local store.
type ClientConfig struct {
	ServerURL  string
	SyncKey    string
	Store      *records.Store
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client drives the client half of the protocol against a remote server.
// One SyncOnce call is one exchange; the caller owns scheduling and retry.
type Client struct {
	serverURL  string
	syncKey    string
	store      *records.Store
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	serverURL := strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if serverURL == "" {
		return nil, errMissingServerURL
	}
	if strings.TrimSpace(cfg.SyncKey) == "" {
		return nil, errMissingSyncKey
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		serverURL:  serverURL,
		syncKey:    cfg.SyncKey,
		store:      cfg.Store,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// SyncOutcome summarizes one completed exchange.
type SyncOutcome struct {
	Pushed     int
	Received   int
	Applied    int
	ServerTime int64
}

// SyncOnce performs one exchange: push the full local record set, apply the
// server's response through the local merge engine, then and only then
// advance the watermark to the returned server time. Any failure leaves the
// watermark untouched; re-running is safe because merges are idempotent.
func (c *Client) SyncOnce(ctx context.Context) (SyncOutcome, error) {
	watermark, err := c.store.Watermark(ctx, records.LocalNamespace)
	if err != nil {
		return SyncOutcome{}, err
	}

	request, err := c.buildRequest(ctx, watermark)
	if err != nil {
		return SyncOutcome{}, err
	}

	response, err := c.post(ctx, request)
	if err != nil {
		return SyncOutcome{}, err
	}

	applied := 0
	for _, wire := range response.Notes {
		accepted, err := c.store.MergeNote(ctx, records.LocalNamespace, wire.toModel())
		if err != nil {
			return SyncOutcome{}, err
		}
		if accepted {
			applied++
		}
	}
	for _, wire := range response.Folders {
		accepted, err := c.store.MergeFolder(ctx, records.LocalNamespace, wire.toModel())
		if err != nil {
			return SyncOutcome{}, err
		}
		if accepted {
			applied++
		}
	}
	for _, wire := range response.Workspaces {
		accepted, err := c.store.MergeWorkspace(ctx, records.LocalNamespace, wire.toModel())
		if err != nil {
			return SyncOutcome{}, err
		}
		if accepted {
			applied++
		}
	}

	if err := c.store.SetWatermark(ctx, records.LocalNamespace, response.ServerTime); err != nil {
		return SyncOutcome{}, err
	}

	outcome := SyncOutcome{
		Pushed:     len(request.Notes) + len(request.Folders) + len(request.Workspaces),
		Received:   len(response.Notes) + len(response.Folders) + len(response.Workspaces),
		Applied:    applied,
		ServerTime: response.ServerTime,
	}
	c.logger.Info("sync exchange completed",
		zap.Int("pushed", outcome.Pushed),
		zap.Int("received", outcome.Received),
		zap.Int("applied", outcome.Applied),
		zap.Int64("server_time", outcome.ServerTime))
	return outcome, nil
}

func (c *Client) buildRequest(ctx context.Context, watermark int64) (SyncRequest, error) {
	notes, err := c.store.SnapshotNotes(ctx, records.LocalNamespace)
	if err != nil {
		return SyncRequest{}, err
	}
	folders, err := c.store.SnapshotFolders(ctx, records.LocalNamespace)
	if err != nil {
		return SyncRequest{}, err
	}
	workspaces, err := c.store.SnapshotWorkspaces(ctx, records.LocalNamespace)
	if err != nil {
		return SyncRequest{}, err
	}

	request := SyncRequest{
		LastSyncTime: watermark,
		Notes:        make([]NoteRecord, 0, len(notes)),
		Folders:      make([]FolderRecord, 0, len(folders)),
		Workspaces:   make([]WorkspaceRecord, 0, len(workspaces)),
	}
	for _, note := range notes {
		request.Notes = append(request.Notes, noteToWire(note))
	}
	for _, folder := range folders {
		request.Folders = append(request.Folders, folderToWire(folder))
	}
	for _, workspace := range workspaces {
		request.Workspaces = append(request.Workspaces, workspaceToWire(workspace))
	}
	return request, nil
}

func (c *Client) post(ctx context.Context, request SyncRequest) (SyncResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return SyncResponse{}, fmt.Errorf("encode sync request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return SyncResponse{}, err
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set(SyncKeyHeader, c.syncKey)

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return SyncResponse{}, fmt.Errorf("sync request failed: %w", err)
	}
	defer httpResponse.Body.Close() //nolint:errcheck

	switch {
	case httpResponse.StatusCode == http.StatusUnauthorized || httpResponse.StatusCode == http.StatusForbidden:
		return SyncResponse{}, ErrUnauthorized
	case httpResponse.StatusCode != http.StatusOK:
		return SyncResponse{}, fmt.Errorf("sync request failed: unexpected status %d", httpResponse.StatusCode)
	}

	var response SyncResponse
	if err := json.NewDecoder(httpResponse.Body).Decode(&response); err != nil {
		return SyncResponse{}, fmt.Errorf("decode sync response: %w", err)
	}
	return response, nil
}
