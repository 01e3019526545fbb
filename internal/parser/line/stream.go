package line

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"linegroup/internal/config"
	"linegroup/internal/record"
)

const readBufferSize = 256 * 1024

// Stream reads src line by line, parses every line and sends one pooled
// *record.Row per line to out, invalid lines included (Valid=false) so the
// consumer can count them.
//
// Options:
//   - encoding: WHATWG encoding label of the input (default "utf-8"),
//     e.g. "windows-1251", "koi8-r", "utf-16le".
//   - strip_bom: drop a leading byte order mark and honor the encoding it
//     announces (default true).
//
// Lines end at "\n", "\r\n" or a lone "\r". The final line does not need a
// terminator. Lines have no length limit.
//
// A read error is reported through onErr with the number of the line being
// read and returned; the stream is not resumed. On ctx cancellation the
// in-flight row is dropped, not re-pooled.
func Stream(
	ctx context.Context,
	src io.ReadCloser,
	opt config.Options,
	out chan<- *record.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	r, err := NewDecodingReader(src, opt.String("encoding", "utf-8"), opt.Bool("strip_bom", true))
	if err != nil {
		if onErr != nil {
			onErr(0, err)
		}
		return err
	}
	br := bufio.NewReaderSize(r, readBufferSize)

	var n int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n++
		text, rerr := readLine(br)
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			err := fmt.Errorf("line: read line %d: %w", n, rerr)
			if onErr != nil {
				onErr(n, err)
			}
			return err
		}

		row := record.GetRow()
		row.Text = text
		row.Line = n
		if vals, ok := Parse(text, row.Values); ok {
			row.Values = vals
			row.Valid = true
		} else {
			row.Values = row.Values[:0]
		}

		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}
}

// readLine returns the next line without its terminator: "\n", "\r\n" or a
// lone "\r". io.EOF is returned only when no more data is left.
func readLine(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		if _, err := br.Peek(1); err != nil {
			if err == io.EOF && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		buf, _ := br.Peek(br.Buffered())
		i := bytes.IndexAny(buf, "\r\n")
		if i < 0 {
			sb.Write(buf)
			br.Discard(len(buf))
			continue
		}
		term := buf[i]
		sb.Write(buf[:i])
		br.Discard(i + 1)
		if term == '\r' {
			if next, err := br.Peek(1); err == nil && next[0] == '\n' {
				br.Discard(1)
			}
		}
		return sb.String(), nil
	}
}

// NewDecodingReader wraps r so that it yields UTF-8 text.
//
// UTF-8 input without BOM handling is returned unwrapped.
func NewDecodingReader(r io.Reader, encoding string, stripBOM bool) (io.Reader, error) {
	name := strings.ToLower(strings.TrimSpace(encoding))
	if name == "" {
		name = "utf-8"
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("line: unsupported encoding %q: %w", encoding, err)
	}

	if enc == unicode.UTF8 && !stripBOM {
		return r, nil
	}

	t := transform.Transformer(enc.NewDecoder())
	if stripBOM {
		t = unicode.BOMOverride(enc.NewDecoder())
	}
	return transform.NewReader(r, t), nil
}
