// Package search mirrors entity names into Meilisearch so downstream readers
// can find entities by name. Indexing never blocks or fails a write.
package search

import "context"

// EntityDocument is the data we index for an entity's current version.
type EntityDocument struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SpaceID   string `json:"spaceId"`
	VersionID string `json:"versionId"`
	Block     int64  `json:"block"`
}

// Source pages through every entity's current document, ordered by id.
type Source interface {
	EntityDocuments(ctx context.Context, afterID string, limit int) ([]EntityDocument, error)
}
