// Package fabric implements a byte-message broadcast channel over a [group.Group].
//
// Each message goes out as two broadcasts on a private duplicate of the group: first the payload
// length as a little-endian uint32, then the payload itself. The sender issues both without
// waiting in between; receivers must learn the length before they can size the payload buffer,
// so they wait on the first broadcast before issuing the second.
//
// Messages must be smaller than [MaxPayload].
package fabric
