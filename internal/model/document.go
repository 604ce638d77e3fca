package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DocumentIdentity identifies one uploaded document across sessions. A stored
// session is only resumed when every field matches the file being submitted.
type DocumentIdentity struct {
	Name     string    `json:"name"`
	ByteSize int64     `json:"byte_size"`
	ModTime  time.Time `json:"mod_time"`
}

// Matches reports whether two identities refer to the same document. ModTime
// is compared at second precision so filesystem round-trips don't break resume.
func (d DocumentIdentity) Matches(other DocumentIdentity) bool {
	return norm.NFC.String(d.Name) == norm.NFC.String(other.Name) &&
		d.ByteSize == other.ByteSize &&
		d.ModTime.Truncate(time.Second).Equal(other.ModTime.Truncate(time.Second))
}

// Key returns the stable storage key for this document's session.
func (d DocumentIdentity) Key() string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d",
		norm.NFC.String(d.Name), d.ByteSize, d.ModTime.Truncate(time.Second).Unix())))
	return hex.EncodeToString(h[:16])
}

// Document is the immutable pipeline input: the source file plus its identity.
// Text is filled once by the extract phase and read-only afterwards.
type Document struct {
	Identity DocumentIdentity
	Path     string
	Text     string
}

// Chunk is one contiguous slice of a phase's input text, carrying the context
// overlaps used only for prompting, never emitted in the chunk's own output.
type Chunk struct {
	Index       int
	Content     string
	PrevOverlap string
	NextOverlap string
}
