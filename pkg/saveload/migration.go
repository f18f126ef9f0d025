package saveload

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Migration maps a generic save document at one data-model version to
// the next. Chains are applied in order until the loaded object's
// version matches the version the caller expects.
type Migration func(doc map[string]interface{}) (map[string]interface{}, error)

// MigrationChain keys each Migration by the version it migrates from.
type MigrationChain map[int32]Migration

// applyMigrations repeatedly applies chain[fromVersion] until
// fromVersion reaches toVersion, detecting both a missing migration and
// a chain that never reaches the target version.
func applyMigrations(doc map[string]interface{}, fromVersion, toVersion int32, chain MigrationChain) (map[string]interface{}, error) {
	if fromVersion == toVersion {
		return doc, nil
	}
	if fromVersion > toVersion {
		return nil, status.Errorf(codes.FailedPrecondition, "saveload: cannot migrate backwards from version %d to %d", fromVersion, toVersion)
	}

	// v only ever increments and fromVersion <= toVersion is already
	// enforced above, so a version can never be revisited here; no
	// cycle guard is needed.
	v := fromVersion
	for v != toVersion {
		migrate, ok := chain[v]
		if !ok {
			return nil, status.Errorf(codes.Unimplemented, "saveload: no migration registered for version %d", v)
		}
		next, err := migrate(doc)
		if err != nil {
			return nil, status.Errorf(codes.FailedPrecondition, "saveload: migration from version %d failed: %s", v, err)
		}
		doc = next
		v++
	}
	return doc, nil
}
