package documents

import "context"

// Registry defines persistence operations for documents. The ingestion core needs Create,
// FindByContentHash, ApplyReuse and MarkStatus; the rest serve the CRUD surface.
type Registry interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, documentID string) (Document, error)
	// FindByContentHash returns the live document holding hash, preferring a completed one.
	FindByContentHash(ctx context.Context, contentHash string) (Document, error)
	// ApplyReuse atomically overwrites a processing/failed document and marks it completed.
	ApplyReuse(ctx context.Context, documentID string, upd ReuseUpdate) (Document, error)
	MarkStatus(ctx context.Context, documentID string, status Status, errorMessage string) error
	UpdateProcessingInfo(ctx context.Context, documentID string, info ProcessingInfo) error
	UpdatePermissions(ctx context.Context, documentID string, permissions []string, isPublic bool) error
	SoftDelete(ctx context.Context, documentID string) error
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Document, error)
	Search(ctx context.Context, ownerID, term string, limit int) ([]Document, error)
	StatsByOwner(ctx context.Context, ownerID string) (Stats, error)
}
