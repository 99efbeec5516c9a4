package loadbalancer

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sharnoff/tilecast/fabric"
	"github.com/sharnoff/tilecast/tile"
)

// frameHeader is sent by rank 0 at the start of every distributed frame
type frameHeader struct {
	FrameID  string `msgpack:"frame_id"`
	Width    int    `msgpack:"width"`
	Height   int    `msgpack:"height"`
	TileSize int    `msgpack:"tile_size"`
	Ranks    int    `msgpack:"ranks"`
}

// tileBatch carries every tile a rank rendered for a frame. Err is set if the rank's part of the
// frame failed; the tiles that did finish are still included.
type tileBatch struct {
	FrameID string       `msgpack:"frame_id"`
	Rank    int          `msgpack:"rank"`
	Tiles   []*tile.Tile `msgpack:"tiles"`
	Err     string       `msgpack:"err,omitempty"`
}

func sendMsg(f *fabric.Fabric, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %T", v)
	}
	return f.Send(data)
}

func readMsg(f *fabric.Fabric, v any) error {
	data, err := f.Read()
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decode %T", v)
	}
	return nil
}
