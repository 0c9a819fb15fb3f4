package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-notes/inkwell/internal/records"
)

var (
	errMissingStore = errors.New("record store is required")

	// ErrInvalidWatermark indicates a negative last_sync_time in a request.
	ErrInvalidWatermark = errors.New("exchange: invalid last_sync_time")
)

const (
	opServiceNew = "exchange.service.new"
	opExchange   = "exchange.exchange"
)

// ServiceError wraps an exchange failure with an operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the server-side exchange.
type ServiceConfig struct {
	Store  *records.Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service is the server half of the sync protocol: it merges a client's
// pushed records into the namespace selected by its sync key and answers
// with everything in that namespace that changed inside the window.
type Service struct {
	store  *records.Store
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, clock: clock, logger: logger}, nil
}

// Exchange runs one full push/pull cycle for the given namespace.
//
// The server time is captured once on entry and used as the exclusive upper
// bound of the pull window, so records mutated by this very request (or by a
// concurrent one) with timestamps at-or-after it are held back until the
// next exchange; that prevents the requester from persisting a watermark
// covering writes it has not seen settle. Each merge commits independently:
// a failure mid-request leaves every already merged record in place, which
// is safe to retry because merging is idempotent.
func (s *Service) Exchange(ctx context.Context, namespace records.Namespace, request SyncRequest) (SyncResponse, error) {
	if request.LastSyncTime < 0 {
		return SyncResponse{}, fmt.Errorf("%w: %d", ErrInvalidWatermark, request.LastSyncTime)
	}

	now := s.clock().UTC().UnixMilli()

	for _, wire := range request.Notes {
		if _, err := s.store.MergeNote(ctx, namespace, wire.toModel()); err != nil {
			s.logError(opExchange, "note_merge_failed", err,
				zap.String("namespace", namespace.String()),
				zap.String("note_id", wire.ID))
			return SyncResponse{}, newServiceError(opExchange, "note_merge_failed", err)
		}
	}
	for _, wire := range request.Folders {
		if _, err := s.store.MergeFolder(ctx, namespace, wire.toModel()); err != nil {
			s.logError(opExchange, "folder_merge_failed", err,
				zap.String("namespace", namespace.String()),
				zap.String("folder_id", wire.ID))
			return SyncResponse{}, newServiceError(opExchange, "folder_merge_failed", err)
		}
	}
	for _, wire := range request.Workspaces {
		if _, err := s.store.MergeWorkspace(ctx, namespace, wire.toModel()); err != nil {
			s.logError(opExchange, "workspace_merge_failed", err,
				zap.String("namespace", namespace.String()),
				zap.String("workspace_id", wire.ID))
			return SyncResponse{}, newServiceError(opExchange, "workspace_merge_failed", err)
		}
	}

	notes, err := s.store.NotesInWindow(ctx, namespace, request.LastSyncTime, now)
	if err != nil {
		return SyncResponse{}, newServiceError(opExchange, "note_window_failed", err)
	}
	folders, err := s.store.FoldersInWindow(ctx, namespace, request.LastSyncTime, now)
	if err != nil {
		return SyncResponse{}, newServiceError(opExchange, "folder_window_failed", err)
	}
	workspaces, err := s.store.WorkspacesInWindow(ctx, namespace, request.LastSyncTime, now)
	if err != nil {
		return SyncResponse{}, newServiceError(opExchange, "workspace_window_failed", err)
	}

	response := SyncResponse{
		ServerTime: now,
		Notes:      make([]NoteRecord, 0, len(notes)),
		Folders:    make([]FolderRecord, 0, len(folders)),
		Workspaces: make([]WorkspaceRecord, 0, len(workspaces)),
	}
	for _, note := range notes {
		response.Notes = append(response.Notes, noteToWire(note))
	}
	for _, folder := range folders {
		response.Folders = append(response.Folders, folderToWire(folder))
	}
	for _, workspace := range workspaces {
		response.Workspaces = append(response.Workspaces, workspaceToWire(workspace))
	}
	return response, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("exchange service error", attrs...)
}
