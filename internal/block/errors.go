package block

import "github.com/cockroachdb/errors"

// ErrCorrupt is returned when a block's offset table cannot be parsed.
var ErrCorrupt = errors.New("block: corrupt offset table")
