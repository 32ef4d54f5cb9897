package state

import (
	"context"
	"errors"
	"fmt"
)

// SchemaVersion is the layout of escrow, listing, storefront and auction
// records this binary reads and writes. Bump it on any incompatible change.
const SchemaVersion uint32 = 1

var schemaKey = []byte("market/schema")

// ErrSchemaMismatch is returned when the database was written by a binary
// with a different SchemaVersion.
var ErrSchemaMismatch = errors.New("state: schema version mismatch")

// SchemaStamp is the marker persisted alongside market records.
type SchemaStamp struct {
	Version   uint32
	StampedAt uint64
}

// Schema returns the stored stamp, or nil for a database that has never been
// opened by marketd.
func (m *Manager) Schema(ctx context.Context) (*SchemaStamp, error) {
	var stamp *SchemaStamp
	err := m.View(ctx, func(context.Context) error {
		var stored SchemaStamp
		ok, err := m.KVGet(schemaKey, &stored)
		if ok {
			stamp = &stored
		}
		return err
	})
	return stamp, err
}

// StampSchema records version as the layout of the current database.
func (m *Manager) StampSchema(ctx context.Context, version uint32) error {
	return m.Atomic(ctx, "", func(ctx context.Context) error {
		return m.KVPut(schemaKey, SchemaStamp{Version: version, StampedAt: m.Now(ctx)})
	})
}

// EnsureStateVersion stamps a fresh database and rejects one written with a
// different layout. With allowMigrate the mismatch is accepted and the stamp
// is moved to SchemaVersion, on the assumption that the operator migrated the
// records out of band.
func EnsureStateVersion(ctx context.Context, m *Manager, allowMigrate bool) error {
	if m == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	stamp, err := m.Schema(ctx)
	if err != nil {
		return err
	}
	switch {
	case stamp == nil:
		return m.StampSchema(ctx, SchemaVersion)
	case stamp.Version == SchemaVersion:
		return nil
	case allowMigrate:
		return m.StampSchema(ctx, SchemaVersion)
	}
	return fmt.Errorf("%w: stored=%d supported=%d", ErrSchemaMismatch, stamp.Version, SchemaVersion)
}
