package documents

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Registry.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]Document // documentID -> document
	now  func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		data: make(map[string]Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new document. A second completed document for the same hash is rejected.
func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.ID == "" || doc.ContentHash == "" {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[doc.ID]; ok {
		return ErrAlreadyExists
	}
	if doc.Status == StatusCompleted {
		for _, existing := range r.data {
			if existing.ContentHash == doc.ContentHash && existing.Status == StatusCompleted && !existing.IsDeleted {
				return ErrDuplicateContent
			}
		}
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = r.now()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	r.data[doc.ID] = cloneDocument(doc)
	return nil
}

// GetByID returns a document regardless of deletion state.
func (r *MemoryRepo) GetByID(ctx context.Context, documentID string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.data[documentID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return cloneDocument(doc), nil
}

// FindByContentHash returns the live document for hash, preferring completed, then newest.
func (r *MemoryRepo) FindByContentHash(ctx context.Context, contentHash string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best Document
	found := false
	for _, doc := range r.data {
		if doc.ContentHash != contentHash || doc.IsDeleted {
			continue
		}
		if !found || betterMatch(doc, best) {
			best = doc
			found = true
		}
	}
	if !found {
		return Document{}, ErrNotFound
	}
	return cloneDocument(best), nil
}

func betterMatch(candidate, current Document) bool {
	cc := candidate.Status == StatusCompleted
	kc := current.Status == StatusCompleted
	if cc != kc {
		return cc
	}
	return candidate.CreatedAt.After(current.CreatedAt)
}

// ApplyReuse overwrites a non-completed document and marks it completed.
func (r *MemoryRepo) ApplyReuse(ctx context.Context, documentID string, upd ReuseUpdate) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.data[documentID]
	if !ok || doc.IsDeleted {
		return Document{}, ErrNotFound
	}
	if doc.Status == StatusCompleted {
		return Document{}, ErrNotReusable
	}
	processedAt := upd.ProcessedAt
	doc.DisplayName = upd.DisplayName
	doc.OriginalFilename = upd.OriginalFilename
	doc.SizeBytes = upd.SizeBytes
	doc.MediaType = upd.MediaType
	doc.Extension = upd.Extension
	doc.StorageKey = upd.StorageKey
	doc.IsPublic = upd.IsPublic
	doc.Permissions = append([]string(nil), upd.Permissions...)
	doc.DocumentType = upd.DocumentType
	doc.Status = StatusCompleted
	doc.ErrorMessage = ""
	doc.ProcessedAt = &processedAt
	doc.UpdatedAt = r.now()
	r.data[documentID] = doc
	return cloneDocument(doc), nil
}

// MarkStatus sets the lifecycle status and error message.
func (r *MemoryRepo) MarkStatus(ctx context.Context, documentID string, status Status, errorMessage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ValidStatus(status) {
		return ErrInvalidInput
	}
	return r.mutate(documentID, func(doc *Document) {
		doc.Status = status
		doc.ErrorMessage = errorMessage
	})
}

// UpdateProcessingInfo records downstream extraction and indexing results.
func (r *MemoryRepo) UpdateProcessingInfo(ctx context.Context, documentID string, info ProcessingInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.mutate(documentID, func(doc *Document) {
		if info.ExtractedTextKey != "" {
			doc.ExtractedTextKey = info.ExtractedTextKey
		}
		if info.VectorID != "" {
			doc.VectorID = info.VectorID
		}
		if info.IndexedAt != nil {
			t := *info.IndexedAt
			doc.IndexedAt = &t
		}
	})
}

// UpdatePermissions replaces capability strings and public visibility.
func (r *MemoryRepo) UpdatePermissions(ctx context.Context, documentID string, permissions []string, isPublic bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.mutate(documentID, func(doc *Document) {
		doc.Permissions = append([]string(nil), permissions...)
		doc.IsPublic = isPublic
	})
}

// SoftDelete flags the document as deleted.
func (r *MemoryRepo) SoftDelete(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.mutate(documentID, func(doc *Document) {
		doc.IsDeleted = true
	})
}

func (r *MemoryRepo) mutate(documentID string, fn func(doc *Document)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.data[documentID]
	if !ok || doc.IsDeleted {
		return ErrNotFound
	}
	fn(&doc)
	doc.UpdatedAt = r.now()
	r.data[documentID] = doc
	return nil
}

// ListByOwner returns live documents for an owner, newest first, honoring limit/offset.
func (r *MemoryRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)

	docs := r.filter(func(d Document) bool { return d.OwnerID == ownerID })
	if offset >= len(docs) {
		return []Document{}, nil
	}
	end := len(docs)
	if offset+limit < end {
		end = offset + limit
	}
	return docs[offset:end], nil
}

// Search matches term case-insensitively against display and original names.
func (r *MemoryRepo) Search(ctx context.Context, ownerID, term string, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, _ = clampPage(limit, 0)
	needle := strings.ToLower(strings.TrimSpace(term))
	docs := r.filter(func(d Document) bool {
		if d.OwnerID != ownerID {
			return false
		}
		return strings.Contains(strings.ToLower(d.DisplayName), needle) ||
			strings.Contains(strings.ToLower(d.OriginalFilename), needle)
	})
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// StatsByOwner aggregates count and size per media type.
func (r *MemoryRepo) StatsByOwner(ctx context.Context, ownerID string) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	stats := Stats{ByMediaType: map[string]TypeStats{}}
	for _, d := range r.filter(func(d Document) bool { return d.OwnerID == ownerID }) {
		stats.TotalDocuments++
		stats.TotalSizeBytes += d.SizeBytes
		ts := stats.ByMediaType[d.MediaType]
		ts.Count++
		ts.TotalSize += d.SizeBytes
		stats.ByMediaType[d.MediaType] = ts
	}
	return stats, nil
}

// filter returns matching live documents sorted newest first.
func (r *MemoryRepo) filter(keep func(Document) bool) []Document {
	r.mu.RLock()
	out := make([]Document, 0)
	for _, d := range r.data {
		if !d.IsDeleted && keep(d) {
			out = append(out, cloneDocument(d))
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func cloneDocument(d Document) Document {
	d.Permissions = append([]string(nil), d.Permissions...)
	return d
}

var _ Registry = (*MemoryRepo)(nil)
