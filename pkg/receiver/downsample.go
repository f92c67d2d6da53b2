package receiver

// Downsample decimates readings to at most maxPoints, keeping the first one.
// It reuses dst when it has enough capacity. maxPoints <= 0 keeps everything.
func Downsample(dst []Reading, readings []Reading, maxPoints int) []Reading {
	if maxPoints <= 0 || len(readings) <= maxPoints {
		if cap(dst) < len(readings) {
			dst = make([]Reading, len(readings))
		}
		dst = dst[:len(readings)]
		copy(dst, readings)
		return dst
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]Reading, 0, maxPoints)
	}

	step := float64(len(readings)) / float64(maxPoints)
	for i := range maxPoints {
		dst = append(dst, readings[int(float64(i)*step)])
	}
	return dst
}
