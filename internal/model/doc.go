// Package model defines the canonical data types shared across the
// ingestion pipeline.
//
// Conventions:
//   - Prices and volumes: decimal strings, passed through from the feed
//     unparsed (no float conversion anywhere in the pipeline)
//   - Timestamps: int64 seconds since Unix epoch
package model
