package progress

import "errors"

var errBusClosed = errors.New("progress bus closed")
