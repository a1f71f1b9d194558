package geometry

import "fmt"

// Error is a fatal geometry construction error: incomplete spatial coverage,
// overlapping cells, malformed lattice dimensions, or invalid IDs. A solve
// must never be attempted on a geometry that produced one.
type Error struct {
	msg string
}

func (e *Error) Error() string {
	return "geometry: " + e.msg
}

func errorf(format string, args ...interface{}) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}
