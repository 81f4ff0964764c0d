package actor

import "runtime"

// getGoroutineID parses the current goroutine's id out of a runtime stack
// trace. Grounded on eventloop/loop.go's getGoroutineID/isLoopThread pair:
// each Scheduler pins itself to one goroutine for its entire Run, and
// compares against this id to decide whether a send is the fast
// same-thread path or must cross through the inbox ring.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
