package market

import "errors"

// ErrNotFound marks "not found"-class upstream failures (unknown or delisted
// symbol, 404 responses). The derived-metric cache keeps these out of the
// logs; everything else is reported.
var ErrNotFound = errors.New("symbol not found")
