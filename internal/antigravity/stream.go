package antigravity

import (
	"bytes"
	"encoding/json"
	"io"
)

// dataPrefix marks a decodable stream line.
var dataPrefix = []byte("data: ")

// lineDecoder accumulates raw stream bytes and yields complete lines. It
// buffers at the byte level, so a multi-byte UTF-8 sequence split across two
// read chunks is reassembled before any text interpretation happens, and
// data lines may grow arbitrarily large (inline image payloads routinely
// exceed any fixed scanner limit).
type lineDecoder struct {
	buf []byte
}

// feed appends a chunk and invokes emit for every complete line now
// available. A trailing partial line stays buffered for the next chunk.
func (d *lineDecoder) feed(chunk []byte, emit func(line []byte)) {
	d.buf = append(d.buf, chunk...)
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return
		}
		line := bytes.TrimSpace(d.buf[:i])
		d.buf = d.buf[i+1:]
		emit(line)
	}
}

// decodeStream reads the generate response body to exhaustion, decoding each
// `data:` line into a payload and passing it to handle. Malformed lines are
// skipped; decoding always continues to the end of the stream.
func decodeStream(r io.Reader, handle func(*streamPayload)) error {
	var dec lineDecoder
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			dec.feed(chunk[:n], func(line []byte) {
				rest, ok := bytes.CutPrefix(line, dataPrefix)
				if !ok {
					return
				}
				var payload streamPayload
				if jsonErr := json.Unmarshal(rest, &payload); jsonErr != nil {
					return
				}
				handle(&payload)
			})
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
