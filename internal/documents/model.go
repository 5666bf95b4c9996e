package documents

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state of a document.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const (
	TypeCommon = "common"
	Type1      = "type1"
	Type2      = "type2"
)

// Document is the canonical record of stored content.
type Document struct {
	ID               string
	ContentHash      string
	DisplayName      string
	OriginalFilename string
	SizeBytes        int64
	MediaType        string
	Extension        string
	StorageKey       string
	OwnerID          string
	IsPublic         bool
	Permissions      []string
	DocumentType     string
	Status           Status
	ErrorMessage     string
	ExtractedTextKey string
	VectorID         string
	IndexedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ProcessedAt      *time.Time
	IsDeleted        bool
}

// ReuseUpdate overwrites the mutable fields of a processing/failed document when identical
// content is uploaded again. The owner is never changed.
type ReuseUpdate struct {
	DisplayName      string
	OriginalFilename string
	SizeBytes        int64
	MediaType        string
	Extension        string
	StorageKey       string
	IsPublic         bool
	Permissions      []string
	DocumentType     string
	ProcessedAt      time.Time
}

// ProcessingInfo carries the fields written by the downstream extraction/indexing pipeline.
type ProcessingInfo struct {
	ExtractedTextKey string
	VectorID         string
	IndexedAt        *time.Time
}

// TypeStats aggregates documents of one media type.
type TypeStats struct {
	Count     int   `json:"count"`
	TotalSize int64 `json:"totalSize"`
}

// Stats summarizes an owner's live documents.
type Stats struct {
	TotalDocuments int                  `json:"totalDocuments"`
	TotalSizeBytes int64                `json:"totalSizeBytes"`
	ByMediaType    map[string]TypeStats `json:"byMediaType"`
}

// ParseDocumentType validates a classification, defaulting to common.
func ParseDocumentType(raw string) (string, error) {
	switch t := strings.ToLower(strings.TrimSpace(raw)); t {
	case "":
		return TypeCommon, nil
	case TypeCommon, Type1, Type2:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown document type %q", ErrInvalidInput, raw)
	}
}

// ValidStatus reports whether s is one of the lifecycle states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// NormalizePermissions trims, dedupes and sorts capability strings.
func NormalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// CanRead reports whether userID may see the document.
func (d Document) CanRead(userID string) bool {
	if d.IsDeleted {
		return false
	}
	if d.OwnerID == userID || d.IsPublic {
		return true
	}
	for _, p := range d.Permissions {
		if p == "read:"+userID {
			return true
		}
	}
	return false
}
