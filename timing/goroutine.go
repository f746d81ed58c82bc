package timing

import (
	"bytes"
	"runtime"
	"strconv"
)

var goroutinePrefix = []byte("goroutine ")

// curGoroutineID returns the runtime id of the calling goroutine. It is only
// used to recognise calls made from inside a callback of the goroutine that
// is dispatching events.
func curGoroutineID() uint64 {
	var buf [64]byte

	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)

	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		panic("timing: cannot parse goroutine id from stack")
	}

	id, err := strconv.ParseUint(string(b[:i]), 10, 64)
	if err != nil {
		panic("timing: cannot parse goroutine id: " + err.Error())
	}

	return id
}
