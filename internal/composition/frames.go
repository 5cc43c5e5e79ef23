package composition

import "math"

// FrameAt converts a timestamp in seconds to the nearest frame index.
func FrameAt(seconds float64, fps int) int {
	return int(math.Round(seconds * float64(fps)))
}
