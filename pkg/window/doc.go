// Package window implements the slicing of time windows. In the world of data processing on an unbounded stream,
// Windowing is a concept of grouping data using temporal boundaries. Instead of keeping state per window, the stream is
// cut into non-overlapping slices whose boundaries are the union of all window starts and window ends. Every record
// lands in exactly one slice, and every window is answered by combining the contiguous slices that tile it.
//
// Windows are of two types here, Tumbling windows (slide equals size) and Sliding windows (slide smaller than size).
// For tumbling windows a slice is a window, for sliding windows a slice is shared by all windows overlapping it, so
// the partial state of a record is computed once no matter how many windows it contributes to.
//
// Window boundaries are aligned to the epoch (e.g., 1 minute windows start at the 0th second), which lets the mapping
// from a timestamp to its slice happen in constant time.
package window
