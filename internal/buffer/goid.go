package buffer

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID returns a best-effort, stable-for-the-life-of-the-goroutine
// identifier, parsed out of the runtime's own debug stack dump.
//
// Go deliberately has no public API for thread-local storage or goroutine
// identity (see DESIGN.md, Open Question 4: the original's __thread probe
// buffer has no exact Go equivalent). This is used ONLY to make
// InitializeThread idempotent when called repeatedly from the same
// goroutine; it is never consulted on the sample-write hot path, which
// always operates on the *SampleBuffer handle the caller retained from its
// first InitializeThread call.
func goroutineID() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(buf, []byte(prefix)) {
		return -1
	}
	buf = buf[len(prefix):]
	end := bytes.IndexByte(buf, ' ')
	if end < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(buf[:end]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
