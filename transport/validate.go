package transport

// ValidatePacketSize reports whether frame fits within the transport's
// maximum packet size for channel. It never fails the caller's pipeline;
// deciding what to do with an oversized frame is left to the caller.
//
// Parameters:
//   - t: The transport whose limits apply
//   - frame: The candidate frame
//   - channel: The channel the frame is destined for
//
// Returns:
//   - true if len(frame) is within the limit
func ValidatePacketSize(t Transport, frame []byte, channel Channel) bool {
	return len(frame) <= t.GetMaxPacketSize(channel)
}
