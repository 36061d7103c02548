// Package clock abstracts time so scheduler components can be tested with a
// controllable clock.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}
