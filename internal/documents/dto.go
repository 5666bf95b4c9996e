package documents

import "time"

// View is the outward-facing representation of a document.
type View struct {
	DocumentID       string     `json:"documentId"`
	ContentHash      string     `json:"contentHash"`
	DisplayName      string     `json:"displayName"`
	OriginalFilename string     `json:"originalFilename"`
	SizeBytes        int64      `json:"sizeBytes"`
	MediaType        string     `json:"mediaType"`
	Extension        string     `json:"extension"`
	OwnerID          string     `json:"ownerId"`
	IsPublic         bool       `json:"isPublic"`
	Permissions      []string   `json:"permissions"`
	DocumentType     string     `json:"documentType"`
	Status           Status     `json:"status"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	ExtractedTextKey string     `json:"extractedTextKey,omitempty"`
	VectorID         string     `json:"vectorId,omitempty"`
	IndexedAt        *time.Time `json:"indexedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	ProcessedAt      *time.Time `json:"processedAt,omitempty"`
	IsDuplicate      bool       `json:"isDuplicate"`
}

// ToView renders doc; isDuplicate marks a view returned for a duplicate upload.
func ToView(doc Document, isDuplicate bool) View {
	perms := doc.Permissions
	if perms == nil {
		perms = []string{}
	}
	return View{
		DocumentID:       doc.ID,
		ContentHash:      doc.ContentHash,
		DisplayName:      doc.DisplayName,
		OriginalFilename: doc.OriginalFilename,
		SizeBytes:        doc.SizeBytes,
		MediaType:        doc.MediaType,
		Extension:        doc.Extension,
		OwnerID:          doc.OwnerID,
		IsPublic:         doc.IsPublic,
		Permissions:      perms,
		DocumentType:     doc.DocumentType,
		Status:           doc.Status,
		ErrorMessage:     doc.ErrorMessage,
		ExtractedTextKey: doc.ExtractedTextKey,
		VectorID:         doc.VectorID,
		IndexedAt:        doc.IndexedAt,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
		ProcessedAt:      doc.ProcessedAt,
		IsDuplicate:      isDuplicate,
	}
}

func toViews(docs []Document) []View {
	out := make([]View, 0, len(docs))
	for _, d := range docs {
		out = append(out, ToView(d, false))
	}
	return out
}
