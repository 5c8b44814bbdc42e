// Package vectorstore holds the nearest-neighbour index over chunk vectors.
// The index is a cache derived from the knowledge base and can be rebuilt
// from it at any time.
package vectorstore

import "ragqa/internal/domain"

// Storage is the index contract; any implementation, exact or approximate,
// can back the knowledge base.
type Storage = domain.Index
