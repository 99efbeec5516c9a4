// Package tile defines the unit of rendering work: a rectangular [Tile] of RGBA float pixels cut
// from a frame by a [Grid], together with the [Renderer] that fills tiles in and the
// [FrameBuffer] that collects them.
package tile
