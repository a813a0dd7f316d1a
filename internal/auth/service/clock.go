package service

import "time"

// nowFunc returns fn, or time.Now when fn is nil.
func nowFunc(fn func() time.Time) time.Time {
	if fn != nil {
		return fn().UTC()
	}
	return time.Now().UTC()
}
