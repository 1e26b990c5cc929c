package kcell

import (
	"bytes"
	"runtime"
	"strconv"
)

// currentGoroutineID extracts the running goroutine's id from its own stack
// trace header ("goroutine 123 [running]:"). This has no public runtime API;
// parsing the trace is the standard workaround (the same approach used by
// the well-known community goid package) and is only needed here to let
// Section.Enter recognize same-goroutine re-entrancy versus cross-goroutine
// contention, a distinction spec §4.2's nesting requirement depends on.
func currentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return -1
	}
	b = b[len(prefix):]
	end := bytes.IndexByte(b, ' ')
	if end < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(b[:end]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
