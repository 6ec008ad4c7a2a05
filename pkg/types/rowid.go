package types

import (
	"strconv"
	"strings"
)

// RowID identifies a persisted event row. Its content is backend specific
// (ULID, SQLite rowid, sequence number) and must be treated as opaque by
// everything except the store that issued it.
type RowID string

// String returns the identifier as a plain string.
func (id RowID) String() string {
	return string(id)
}

// RowIDFromUint formats a numeric identifier as a RowID.
func RowIDFromUint(n uint64) RowID {
	return RowID(strconv.FormatUint(n, 10))
}

// Uint parses a RowID previously produced by RowIDFromUint.
func (id RowID) Uint() (uint64, bool) {
	n, err := strconv.ParseUint(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// JoinRowIDs renders ids for log output.
func JoinRowIDs(ids []RowID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}
