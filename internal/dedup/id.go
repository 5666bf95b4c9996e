package dedup

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"docstore-backend/internal/fingerprint"
	"docstore-backend/internal/shared/util"
)

const idTimeLayout = "20060102150405.000"

// NewDocumentID mints "<UTC yyyymmddHHMMSSmmm>-<4 random hex>-<12 hex of fingerprint>".
// IDs sort by creation time and can be traced back to their content.
func NewDocumentID(now time.Time, fp fingerprint.Fingerprint) string {
	stamp := strings.Replace(now.UTC().Format(idTimeLayout), ".", "", 1)
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
	return stamp + "-" + random + "-" + fp.Short(12)
}

// StorageKey places a document's bytes under a per-owner prefix.
func StorageKey(ownerID, documentID, extension string) string {
	key := util.OwnerPrefix(ownerID) + "/" + documentID
	if extension != "" {
		key += "." + extension
	}
	return key
}
