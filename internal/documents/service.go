package documents

import (
	"context"
	"fmt"
	"io"
	"strings"

	"docstore-backend/internal/shared/storage/object"
	"docstore-backend/internal/shared/telemetry"
)

// Service contains the read/manage operations on stored documents.
type Service struct {
	Store object.ObjectStore
	Repo  Registry
}

// NewService constructs a Service.
func NewService(store object.ObjectStore, repo Registry) *Service {
	return &Service{Store: store, Repo: repo}
}

// Get returns a document visible to userID.
func (s *Service) Get(ctx context.Context, userID, documentID string) (Document, error) {
	doc, err := s.Repo.GetByID(ctx, documentID)
	if err != nil {
		return Document{}, err
	}
	if doc.IsDeleted {
		return Document{}, ErrNotFound
	}
	if !doc.CanRead(userID) {
		return Document{}, ErrForbidden
	}
	return doc, nil
}

// List returns the owner's documents, newest first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Document, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	return s.Repo.ListByOwner(ctx, userID, limit, offset)
}

// Search matches the owner's documents by name.
func (s *Service) Search(ctx context.Context, userID, term string, limit int) ([]Document, error) {
	if userID == "" || strings.TrimSpace(term) == "" {
		return nil, fmt.Errorf("%w: search term is required", ErrInvalidInput)
	}
	return s.Repo.Search(ctx, userID, term, limit)
}

// Stats summarizes the owner's live documents.
func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	if userID == "" {
		return Stats{}, ErrInvalidInput
	}
	return s.Repo.StatsByOwner(ctx, userID)
}

// Open returns the document with a reader over its stored bytes. Only completed documents
// have downloadable content.
func (s *Service) Open(ctx context.Context, userID, documentID string) (Document, io.ReadCloser, error) {
	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return Document{}, nil, err
	}
	if doc.Status != StatusCompleted || doc.StorageKey == "" {
		return Document{}, nil, ErrNotFound
	}
	rc, err := s.Store.Get(ctx, doc.StorageKey)
	if err != nil {
		return Document{}, nil, fmt.Errorf("open stored object: %w", err)
	}
	return doc, rc, nil
}

// Delete soft-deletes an owned document and removes its stored bytes.
func (s *Service) Delete(ctx context.Context, userID, documentID string) error {
	doc, err := s.owned(ctx, userID, documentID)
	if err != nil {
		return err
	}
	if err := s.Repo.SoftDelete(ctx, doc.ID); err != nil {
		return err
	}
	if doc.StorageKey == "" {
		return nil
	}
	if err := s.Store.Delete(ctx, doc.StorageKey); err != nil {
		telemetry.Error("storage.orphan", map[string]any{
			"document_id": doc.ID,
			"storage_key": doc.StorageKey,
			"error":       err,
		})
	}
	return nil
}

// SetPermissions replaces capability strings and visibility on an owned document.
func (s *Service) SetPermissions(ctx context.Context, userID, documentID string, permissions []string, isPublic bool) (Document, error) {
	if _, err := s.owned(ctx, userID, documentID); err != nil {
		return Document{}, err
	}
	if err := s.Repo.UpdatePermissions(ctx, documentID, NormalizePermissions(permissions), isPublic); err != nil {
		return Document{}, err
	}
	return s.Repo.GetByID(ctx, documentID)
}

// RecordProcessing stores downstream pipeline outputs on an owned document.
func (s *Service) RecordProcessing(ctx context.Context, userID, documentID string, info ProcessingInfo) (Document, error) {
	if info.ExtractedTextKey == "" && info.VectorID == "" && info.IndexedAt == nil {
		return Document{}, fmt.Errorf("%w: no processing fields supplied", ErrInvalidInput)
	}
	if _, err := s.owned(ctx, userID, documentID); err != nil {
		return Document{}, err
	}
	if err := s.Repo.UpdateProcessingInfo(ctx, documentID, info); err != nil {
		return Document{}, err
	}
	return s.Repo.GetByID(ctx, documentID)
}

func (s *Service) owned(ctx context.Context, userID, documentID string) (Document, error) {
	doc, err := s.Repo.GetByID(ctx, documentID)
	if err != nil {
		return Document{}, err
	}
	if doc.IsDeleted {
		return Document{}, ErrNotFound
	}
	if doc.OwnerID != userID {
		return Document{}, ErrForbidden
	}
	return doc, nil
}
