package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when you stop consuming a streaming
// channel before its producer is done, such as a capture frame channel or a
// transport event channel during teardown.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
