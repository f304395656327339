package filetime_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mirrorfs/winfs/filetime"
)

func TestTimestampEpochs(t *testing.T) {
	unixEpoch := time.Unix(0, 0)
	assert.EqualValues(t, 116444736000000000,
		filetime.Timestamp(unixEpoch))

	// One second is ten million 100ns intervals.
	assert.EqualValues(t, 116444736000000000+10000000,
		filetime.Timestamp(unixEpoch.Add(time.Second)))
}

func TestRoundTrip(t *testing.T) {
	moments := []time.Time{
		time.Unix(0, 0),
		time.Date(2004, 2, 29, 12, 34, 56, 700, time.UTC),
		time.Now(),
	}
	for _, moment := range moments {
		got := filetime.Time(filetime.Timestamp(moment))
		// Sub-100ns precision is not representable.
		assert.WithinDuration(t, moment, got, 100*time.Nanosecond)
	}
}

func TestNowIsMonotonicEnough(t *testing.T) {
	before := filetime.Now()
	after := filetime.Timestamp(time.Now().Add(time.Second))
	assert.Less(t, before, after)
}
