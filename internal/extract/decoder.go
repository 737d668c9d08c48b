package extract

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"

	"golang.org/x/text/encoding/htmlindex"
)

const readBufferSize = 64 * 1024

// newDecoder returns a streaming decoder that understands the legacy
// encodings catalog exports are often published in (windows-1251, koi8-r).
func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(bufio.NewReaderSize(r, readBufferSize))
	dec.CharsetReader = charsetReader
	return dec
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}
