package common

// FrameRef points at an extracted frame image.
type FrameRef struct {
	// Index is the 0-based extraction index, contiguous within a run.
	Index int
	// Path is where the frame image was written.
	Path string
}
