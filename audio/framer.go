package audio

// Framer accumulates samples from reads of any size and hands them out as
// fixed-size frames in arrival order.
type Framer struct {
	size    int
	pending []float32
}

// NewFramer creates a framer emitting frames of size samples.
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = FrameSize
	}
	return &Framer{
		size:    size,
		pending: make([]float32, 0, size),
	}
}

// Push appends samples and returns every frame that is now complete.
// Returned frames are freshly allocated and owned by the caller.
func (f *Framer) Push(samples []float32) [][]float32 {
	var frames [][]float32
	for len(samples) > 0 {
		room := f.size - len(f.pending)
		n := min(room, len(samples))
		f.pending = append(f.pending, samples[:n]...)
		samples = samples[n:]

		if len(f.pending) == f.size {
			frame := make([]float32, f.size)
			copy(frame, f.pending)
			frames = append(frames, frame)
			f.pending = f.pending[:0]
		}
	}
	return frames
}

// Pending returns the number of buffered samples not yet forming a frame.
func (f *Framer) Pending() int {
	return len(f.pending)
}
