package paysync

import "github.com/xraph/paysync/id"

// ID is the identifier type of every paysync record.
type ID = id.ID

// Prefix identifies the record kind encoded in a TypeID.
type Prefix = id.Prefix
