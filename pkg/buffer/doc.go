// Package buffer provides a thread-safe blocking buffer for streaming data
// processing.
//
// BlockBuffer is a fixed-size circular buffer that blocks when full or
// empty, giving producers and consumers predictable memory usage and flow
// control. It implements the io.Reader, io.Writer, and io.Closer
// interfaces, supports concurrent access from multiple goroutines, and
// offers graceful shutdown through CloseWrite() (reads continue until the
// buffer drains, then Next returns ErrIteratorDone) or CloseWithError()
// (immediate closure of both ends).
//
// Example usage:
//
//	// Create a blocking buffer of 64 events
//	buf := buffer.BlockN[*Event](64)
//
//	// Producer
//	buf.Add(evt)
//	buf.CloseWrite()
//
//	// Consumer
//	for {
//		evt, err := buf.Next()
//		if err != nil {
//			break // buffer.ErrIteratorDone on a clean end
//		}
//		handle(evt)
//	}
package buffer
