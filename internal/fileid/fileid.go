// Package fileid names uploaded files on disk.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const hashLen = 12

// ContentHash returns the hex SHA-256 of content.
func ContentHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// StoredName returns the on-disk name for an upload: the upload time in
// milliseconds, a short content hash, and the original extension in lower
// case. The client-supplied name contributes nothing else, so it cannot
// escape the upload directory.
func StoredName(originalName string, content []byte, uploaded time.Time) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	return strconv.FormatInt(uploaded.UnixMilli(), 10) + "-" + ContentHash(content)[:hashLen] + ext
}
