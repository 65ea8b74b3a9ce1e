package iface

import (
	"github.com/seamux/seamux/nmea"
	"github.com/seamux/seamux/sealog"
)

// ReadBufSize is the chunk size handed to a transport's ReadBuf.
const ReadBufSize = 8192

// RunFramedRead is the generic read driver: it pulls raw bytes from the
// transport's ReadBuf, assembles them into sentences, applies the input
// filter and pushes the survivors onto the interface queue (the engine's
// inbound queue for In interfaces). It returns when ReadBuf reports a
// definitive exit condition.
func RunFramedRead(ifa *Iface) {
	logger := sealog.Logger{ComponentName: "iface", ComponentID: []sealog.IDField{{Key: "Name", Value: ifa.Name}, {Key: "ID", Value: ifa.ID}}}
	asm := &nmea.Assembler{
		Checksum: ifa.Checksum,
		Strict:   ifa.Strict,
		Source:   ifa.ID,
	}
	buf := make([]byte, ReadBufSize)
	for {
		n, err := ifa.ReadBuf(ifa, buf)
		if err != nil {
			logger.MaybeMinorError(err)
			return
		}
		for _, sb := range asm.Feed(buf[:n]) {
			if ifa.IFilter.Match(sb.Data) {
				ifa.Q.Push(sb)
			}
		}
	}
}
