package model

import "github.com/oklog/ulid/v2"

// NewRunID generates a new ULID string identifying one orchestration run.
// Run IDs name per-run resources such as relay socket paths and tag log
// records so concurrent runs on the same host cannot collide.
func NewRunID() string {
	return ulid.Make().String()
}
