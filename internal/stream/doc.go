// ABOUTME: Package stream decodes an agent's server-sent-event response body
// ABOUTME: Yields typed events lazily and maps payloads onto tagged variants

// Package stream turns the body of an agent run into a sequence of events.
//
// The agent frames its response as server-sent events: an "event: <name>"
// line sets the current event type, and every following "data: <json>"
// line carries one payload for that type. The type persists until the next
// event line, so several data lines may share it.
//
// # Decoding
//
// A Decoder reads one line at a time and never buffers more than that:
//
//	dec := stream.NewDecoder(body)
//	for {
//		ev, err := dec.Next(ctx)
//		if err == io.EOF {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		handle(ev)
//	}
//
// Lines are never fatal. A data line whose JSON does not parse, or a line
// with an unknown prefix, becomes a *DecodeError that the decoder drops and
// counts (see Discarded and OnDiscard). Only read errors and context
// cancellation end the stream early. Lines have no length cap.
//
// # Payloads
//
// DecodePayload maps an event onto exactly one Payload variant, such as
// TextDelta, ToolResult or Chart. Shapes that don't match their event type
// come back as Ignored with a reason instead of an error, so callers can
// switch on the concrete type without guarding against panics. Decode does
// the same and also reports, from that one pass, any progress status or
// cortex tool type the payload carries.
package stream
