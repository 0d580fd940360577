package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decodeContent unwraps every coding named in the Content-Encoding header,
// last applied first. Unknown codings are passed through as is. The returned
// func releases the decoders and must be called once the body is read.
func decodeContent(r io.Reader, header http.Header) (io.Reader, func(), error) {
	codings := contentCodings(header)
	if len(codings) == 0 {
		return r, func() {}, nil
	}

	br := bufio.NewReader(r)
	if _, err := br.Peek(1); errors.Is(err, io.EOF) {
		// Nothing to decode, e.g. HEAD or 204.
		return br, func() {}, nil
	}

	var closers []func()
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var cur io.Reader = br
	for i := len(codings) - 1; i >= 0; i-- {
		next, closeFn, err := newDecoder(cur, codings[i])
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("decode %s body: %w", codings[i], err)
		}
		closers = append(closers, closeFn)
		cur = next
	}
	return cur, release, nil
}

func contentCodings(header http.Header) []string {
	var codings []string
	for _, v := range header.Values("Content-Encoding") {
		for _, c := range strings.Split(v, ",") {
			c = strings.ToLower(strings.TrimSpace(c))
			if c != "" && c != "identity" {
				codings = append(codings, c)
			}
		}
	}
	return codings
}

func newDecoder(r io.Reader, coding string) (io.Reader, func(), error) {
	switch coding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() { _ = zr.Close() }, nil
	case "deflate":
		// Servers send both zlib-wrapped and raw deflate under this name.
		br := bufio.NewReader(r)
		if isZlib(br) {
			zr, err := zlib.NewReader(br)
			if err != nil {
				return nil, nil, err
			}
			return zr, func() { _ = zr.Close() }, nil
		}
		fr := flate.NewReader(br)
		return fr, func() { _ = fr.Close() }, nil
	case "br":
		return brotli.NewReader(r), func() {}, nil
	case "zstd":
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	default:
		return r, func() {}, nil
	}
}

// isZlib reports whether br starts with a valid zlib header (RFC 1950).
func isZlib(br *bufio.Reader) bool {
	h, err := br.Peek(2)
	if err != nil {
		return false
	}
	return h[0]&0x0f == 8 && (uint16(h[0])<<8|uint16(h[1]))%31 == 0
}
