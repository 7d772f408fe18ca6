package convert

import "encoding/binary"

func Float32ToInt16(src []float32) []int16 {
	dst := make([]int16, len(src))
	for i, v := range src {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		dst[i] = int16(v * 32767)
	}
	return dst
}

func Int16ToFloat32(src []int16) []float32 {
	dst := make([]float32, len(src))
	for i, v := range src {
		dst[i] = float32(v) / 32768.0
	}
	return dst
}

// BytesToInt16 decodes S16LE samples, ignoring a trailing odd byte.
func BytesToInt16(src []byte) []int16 {
	dst := make([]int16, len(src)/2)
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
	}
	return dst
}

// PutInt16 writes samples to dst as S16LE and returns how many were written.
func PutInt16(dst []byte, samples []int16) int {
	n := min(len(samples), len(dst)/2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(samples[i]))
	}
	return n
}

// DownmixInt16 averages interleaved channels into mono.
func DownmixInt16(src []int16, channels int) []int16 {
	if channels <= 1 {
		return src
	}
	dst := make([]int16, len(src)/channels)
	for i := range dst {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(src[i*channels+c])
		}
		dst[i] = int16(sum / int32(channels))
	}
	return dst
}
