package convert

import "slices"

// IsFrameSizeValid reports whether frameSize samples is a legal opus frame
// (2.5, 5, 10, 20, 40 or 60 ms) at sampleRate.
func IsFrameSizeValid(sampleRate, frameSize int) bool {
	if sampleRate <= 0 || sampleRate%400 != 0 {
		return false
	}
	ms25 := sampleRate / 400
	valid := []int{ms25, ms25 * 2, ms25 * 4, ms25 * 8, ms25 * 16, ms25 * 24}
	return slices.Contains(valid, frameSize)
}
