package logging

import (
	"fmt"
	"runtime/debug"
)

// Recover logs a panic instead of letting it take the process down. Use it
// deferred at the top of goroutines and callbacks:
//
//	defer log.Recover("focus poll")
func (l *Logger) Recover(where string) {
	if r := recover(); r != nil {
		l.Error("recovered from panic",
			"where", where,
			"panic", fmt.Sprint(r),
			"stack", string(debug.Stack()),
		)
	}
}
