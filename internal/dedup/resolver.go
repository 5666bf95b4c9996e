package dedup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"

	"docstore-backend/internal/documents"
	"docstore-backend/internal/fingerprint"
	"docstore-backend/internal/shared/storage/object"
	"docstore-backend/internal/shared/telemetry"
)

// Decision names the path Resolve took.
type Decision string

const (
	DecisionDuplicateHit  Decision = "duplicate_hit"
	DecisionReuseForRetry Decision = "reuse_for_retry"
	DecisionFreshCreate   Decision = "fresh_create"
)

// Source yields the upload bytes. It may be opened more than once.
type Source interface {
	Open() (io.ReadCloser, error)
}

// Meta is the caller-supplied description of an upload.
type Meta struct {
	OwnerID          string
	DisplayName      string
	OriginalFilename string
	SizeBytes        int64
	MediaType        string
	Extension        string
	IsPublic         bool
	Permissions      []string
	DocumentType     string
}

// Request is one resolution: content identity, metadata and the bytes to store.
type Request struct {
	Fingerprint fingerprint.Fingerprint
	Meta        Meta
	Source      Source
}

// Outcome is the resulting Document and how it was reached.
type Outcome struct {
	Decision Decision
	Document documents.Document
}

// View renders the outcome, flagging duplicate hits.
func (o Outcome) View() documents.View {
	return documents.ToView(o.Document, o.Decision == DecisionDuplicateHit)
}

// ViewFor renders the outcome for the uploader. A duplicate of a Document the uploader cannot
// read only reveals content identity, never the other owner's names, owner or permissions.
func (o Outcome) ViewFor(userID string) documents.View {
	view := o.View()
	if o.Decision != DecisionDuplicateHit || o.Document.CanRead(userID) {
		return view
	}
	view.OwnerID = ""
	view.DisplayName = ""
	view.OriginalFilename = ""
	view.Permissions = []string{}
	view.ExtractedTextKey = ""
	view.VectorID = ""
	return view
}

// Resolver decides whether an upload is a duplicate, a retry of a failed ingestion, or new
// content, and writes storage and registry accordingly.
type Resolver struct {
	Registry documents.Registry
	Store    object.ObjectStore
	Locks    *KeyLock
	Now      func() time.Time
}

// NewResolver constructs a Resolver with its own key lock.
func NewResolver(registry documents.Registry, store object.ObjectStore) *Resolver {
	return &Resolver{
		Registry: registry,
		Store:    store,
		Locks:    NewKeyLock(),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Resolve runs the decision for one fingerprint under its key lock.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Outcome, error) {
	if req.Fingerprint == "" || req.Source == nil {
		return Outcome{}, fmt.Errorf("%w: fingerprint and source are required", documents.ErrInvalidInput)
	}

	unlock, err := r.Locks.Lock(ctx, string(req.Fingerprint))
	if err != nil {
		return Outcome{}, fmt.Errorf("wait for content lock: %w", err)
	}
	defer unlock()

	existing, err := r.Registry.FindByContentHash(ctx, string(req.Fingerprint))
	switch {
	case errors.Is(err, documents.ErrNotFound):
		return r.freshCreate(ctx, req)
	case err != nil:
		return Outcome{}, fmt.Errorf("lookup content hash: %w", err)
	case existing.Status == documents.StatusCompleted:
		r.logDecision(DecisionDuplicateHit, existing, req)
		return Outcome{Decision: DecisionDuplicateHit, Document: existing}, nil
	default:
		return r.reuse(ctx, existing, req)
	}
}

func (r *Resolver) freshCreate(ctx context.Context, req Request) (Outcome, error) {
	now := r.Now()
	id := NewDocumentID(now, req.Fingerprint)
	key := StorageKey(req.Meta.OwnerID, id, req.Meta.Extension)

	if err := r.put(ctx, key, req); err != nil {
		return Outcome{}, err
	}

	doc := documents.Document{
		ID:               id,
		ContentHash:      string(req.Fingerprint),
		DisplayName:      req.Meta.DisplayName,
		OriginalFilename: req.Meta.OriginalFilename,
		SizeBytes:        req.Meta.SizeBytes,
		MediaType:        req.Meta.MediaType,
		Extension:        req.Meta.Extension,
		StorageKey:       key,
		OwnerID:          req.Meta.OwnerID,
		IsPublic:         req.Meta.IsPublic,
		Permissions:      req.Meta.Permissions,
		DocumentType:     req.Meta.DocumentType,
		Status:           documents.StatusCompleted,
		CreatedAt:        now,
		UpdatedAt:        now,
		ProcessedAt:      &now,
	}
	if err := r.Registry.Create(ctx, doc); err != nil {
		cleanupErr := r.discard(ctx, key, id)
		if errors.Is(err, documents.ErrDuplicateContent) {
			return r.lateDuplicate(ctx, req)
		}
		return Outcome{}, multierr.Combine(fmt.Errorf("create document: %w", err), cleanupErr)
	}

	r.logDecision(DecisionFreshCreate, doc, req)
	return Outcome{Decision: DecisionFreshCreate, Document: doc}, nil
}

func (r *Resolver) reuse(ctx context.Context, existing documents.Document, req Request) (Outcome, error) {
	key := existing.StorageKey
	if key == "" {
		key = StorageKey(existing.OwnerID, existing.ID, req.Meta.Extension)
	}

	if err := r.put(ctx, key, req); err != nil {
		return Outcome{}, err
	}

	updated, err := r.Registry.ApplyReuse(ctx, existing.ID, documents.ReuseUpdate{
		DisplayName:      req.Meta.DisplayName,
		OriginalFilename: req.Meta.OriginalFilename,
		SizeBytes:        req.Meta.SizeBytes,
		MediaType:        req.Meta.MediaType,
		Extension:        req.Meta.Extension,
		StorageKey:       key,
		IsPublic:         req.Meta.IsPublic,
		Permissions:      req.Meta.Permissions,
		DocumentType:     req.Meta.DocumentType,
		ProcessedAt:      r.Now(),
	})
	if err != nil {
		if errors.Is(err, documents.ErrDuplicateContent) || errors.Is(err, documents.ErrNotReusable) {
			return r.lateDuplicate(ctx, req)
		}
		markErr := r.Registry.MarkStatus(ctx, existing.ID, documents.StatusFailed, err.Error())
		return Outcome{}, multierr.Combine(fmt.Errorf("reuse document %s: %w", existing.ID, err), markErr)
	}

	r.logDecision(DecisionReuseForRetry, updated, req)
	return Outcome{Decision: DecisionReuseForRetry, Document: updated}, nil
}

// lateDuplicate handles a completed Document appearing after the lookup, which only another
// process holding no shared lock can cause.
func (r *Resolver) lateDuplicate(ctx context.Context, req Request) (Outcome, error) {
	doc, err := r.Registry.FindByContentHash(ctx, string(req.Fingerprint))
	if err != nil {
		return Outcome{}, fmt.Errorf("reload duplicate: %w", err)
	}
	if doc.Status != documents.StatusCompleted {
		return Outcome{}, fmt.Errorf("%w: content %s not completed after conflict", documents.ErrNotReusable, req.Fingerprint.Short(12))
	}
	r.logDecision(DecisionDuplicateHit, doc, req)
	return Outcome{Decision: DecisionDuplicateHit, Document: doc}, nil
}

func (r *Resolver) put(ctx context.Context, key string, req Request) error {
	rc, err := req.Source.Open()
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer rc.Close()

	if _, err := r.Store.Put(ctx, key, req.Meta.MediaType, rc); err != nil {
		return fmt.Errorf("store object: %w", err)
	}
	return nil
}

// discard removes bytes written for a Document that was never recorded.
func (r *Resolver) discard(ctx context.Context, key, documentID string) error {
	if err := r.Store.Delete(context.WithoutCancel(ctx), key); err != nil {
		telemetry.Error("storage.orphan", map[string]any{
			"storage_key": key,
			"document_id": documentID,
			"error":       err,
		})
		return fmt.Errorf("delete orphaned object %s: %w", key, err)
	}
	return nil
}

func (r *Resolver) logDecision(d Decision, doc documents.Document, req Request) {
	telemetry.Info("dedup.decision", map[string]any{
		"decision":     string(d),
		"document_id":  doc.ID,
		"content_hash": req.Fingerprint.Short(12),
		"owner_id":     req.Meta.OwnerID,
	})
}
