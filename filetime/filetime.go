package filetime

import "time"

// epochDelta is the interval count between the file time epoch
// (1601-01-01) and the unix epoch (1970-01-01).
const epochDelta = 116444736000000000

// Timestamp converts a golang timestamp into a file timestamp.
func Timestamp(t time.Time) uint64 {
	return uint64(t.UnixNano()/100 + epochDelta)
}

// Time converts a file timestamp back into a golang timestamp.
func Time(ft uint64) time.Time {
	nsec := (int64(ft) - epochDelta) * 100
	return time.Unix(0, nsec).UTC()
}

// Now captures the current time as a file timestamp.
func Now() uint64 {
	return Timestamp(time.Now())
}
