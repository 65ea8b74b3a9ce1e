package nmea

import (
	"bytes"
	"time"
)

// Assembler turns a raw byte stream into complete sentences. It hunts for a
// '$' or '!' start delimiter, accumulates until LF, and discards anything
// that overruns the length limit or, when configured, fails validation.
type Assembler struct {
	// Checksum requires each sentence to carry a matching "*hh" field.
	Checksum bool
	// Strict enforces the standard 82-character sentence length limit.
	Strict bool
	// Source is the interface ID stamped onto each assembled senblk.
	Source uint32

	partial  []byte
	overrun  bool
	Discards uint64
}

// Feed consumes a chunk of raw bytes and returns the sentences completed by
// it. The returned senblks own their data.
func (a *Assembler) Feed(chunk []byte) []*Senblk {
	var out []*Senblk
	for len(chunk) > 0 {
		if len(a.partial) == 0 && !a.overrun {
			// Hunting for the start of the next sentence.
			start := bytes.IndexAny(chunk, "$!")
			if start < 0 {
				return out
			}
			chunk = chunk[start:]
		}
		lf := bytes.IndexByte(chunk, '\n')
		if lf < 0 {
			if !a.overrun {
				a.partial = append(a.partial, chunk...)
				if len(a.partial) > a.limit() {
					a.dropPartial()
				}
			}
			return out
		}
		line := chunk[:lf+1]
		chunk = chunk[lf+1:]
		if a.overrun {
			// The tail of an over-long sentence; swallow it and resume hunting.
			a.overrun = false
			continue
		}
		sentence := append(a.partial, line...)
		a.partial = nil
		if sb := a.finish(sentence); sb != nil {
			out = append(out, sb)
		}
	}
	return out
}

func (a *Assembler) limit() int {
	if a.Strict {
		return StrictMaxSentence
	}
	return MaxSentence
}

func (a *Assembler) dropPartial() {
	a.partial = nil
	a.overrun = true
	a.Discards++
}

func (a *Assembler) finish(sentence []byte) *Senblk {
	if len(sentence) > a.limit() {
		a.Discards++
		return nil
	}
	// Normalise a bare LF ending to CRLF.
	if len(sentence) < 2 || sentence[len(sentence)-2] != '\r' {
		sentence = append(sentence[:len(sentence)-1], '\r', '\n')
	}
	if a.Checksum && !ChecksumOK(sentence) {
		a.Discards++
		return nil
	}
	data := make([]byte, len(sentence))
	copy(data, sentence)
	return &Senblk{Data: data, Source: a.Source, Received: time.Now()}
}
