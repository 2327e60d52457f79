package events

import "math/rand"

// shouldSample reports whether an event with the given samplingRatio
// should be retained: false for a ratio <= 0, true for ratio 1, and
// otherwise true with probability 1/ratio. Pipeline.ingest consults it
// only for feature events whose SamplingRatio is > 0, so a zero ratio
// (the Event zero value; the Client does not set SamplingRatio) does
// not suppress an event: it is retained like an unsampled one.
func shouldSample(ratio int) bool {
	return shouldSampleWith(ratio, rand.Float64)
}

func shouldSampleWith(ratio int, randFloat func() float64) bool {
	if ratio <= 0 {
		return false
	}
	if ratio == 1 {
		return true
	}
	return randFloat() < 1.0/float64(ratio)
}
