package circulation

import (
	"context"
)

// Notifier is told when a returned copy becomes available to a waiting member.
// Delivering the offer (mail, push, ...) is up to the implementation.
type Notifier interface {
	CopyAvailable(ctx context.Context, reservation Reservation) error
}

// NotifierFunc adapts a func to the Notifier interface.
type NotifierFunc func(ctx context.Context, reservation Reservation) error

// CopyAvailable calls f.
func (f NotifierFunc) CopyAvailable(ctx context.Context, reservation Reservation) error {
	return f(ctx, reservation)
}

// BookMetadata is the descriptive catalog data of a book, owned outside the engine.
type BookMetadata struct {
	Title     string   `json:"title,omitempty"`
	Authors   []string `json:"authors,omitempty"`
	Category  string   `json:"category,omitempty"`
	Publisher string   `json:"publisher,omitempty"`
}

// MetadataProvider is the read-only source of BookMetadata.
type MetadataProvider interface {
	Metadata(ctx context.Context, bookID BookIDString) (BookMetadata, error)
}

// StaticMetadata is a MetadataProvider backed by a map. Unknown books have empty metadata.
type StaticMetadata map[BookIDString]BookMetadata

// Metadata returns the metadata of the book.
func (m StaticMetadata) Metadata(_ context.Context, bookID BookIDString) (BookMetadata, error) {
	return m[bookID], nil
}
