package canbus

// Typed and composable helpers for FrameFilter.

// ByID returns a filter that matches frames with the exact identifier.
func ByID(id uint32) FrameFilter {
	return func(f Frame) bool { return f.ID == id }
}

// ByIDFunc matches frames whose identifier equals the value returned by id at
// match time. Use it when the wanted identifier can change while a
// subscription is live.
func ByIDFunc(id func() uint32) FrameFilter {
	return func(f Frame) bool { return f.ID == id() }
}

// ByMask matches when (frame.ID & mask) == (id & mask).
func ByMask(id uint32, mask uint32) FrameFilter {
	want := id & mask
	return func(f Frame) bool { return (f.ID & mask) == want }
}

// StandardOnly matches standard (11-bit) identifiers.
func StandardOnly() FrameFilter {
	return func(f Frame) bool { return !f.Extended }
}

// DataOnly matches non-RTR frames.
func DataOnly() FrameFilter {
	return func(f Frame) bool { return !f.RTR }
}

// And composes filters; the result matches when all match. Nil filters are
// ignored.
func And(filters ...FrameFilter) FrameFilter {
	var live []FrameFilter
	for _, f := range filters {
		if f != nil {
			live = append(live, f)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return func(f Frame) bool {
		for _, m := range live {
			if !m(f) {
				return false
			}
		}
		return true
	}
}
