package pane

import "bytes"

// oscMaxHold bounds the bytes buffered for an unterminated OSC 7 sequence.
// A sequence that grows past this is abandoned and treated as ordinary output.
const oscMaxHold = 4096

var osc7Marker = []byte("\x1b]7;")

// CwdDetector incrementally scans PTY output for OSC 7 working-directory
// reports (ESC ] 7 ; file://host/path terminated by BEL or ESC \).
// Sequences may be split across chunk boundaries at any byte; parse state is
// carried between Feed calls. The detector never modifies the stream.
type CwdDetector struct {
	hold []byte
}

// Feed scans a chunk and returns any working directories reported in it,
// percent-decoded, in order of appearance.
func (d *CwdDetector) Feed(chunk []byte) []string {
	if len(d.hold) == 0 && bytes.IndexByte(chunk, 0x1b) < 0 {
		// Fast path: no ESC anywhere, nothing to do
		return nil
	}

	data := chunk
	if len(d.hold) > 0 {
		data = append(d.hold, chunk...)
		d.hold = nil
	}

	var cwds []string
	for {
		esc := bytes.IndexByte(data, 0x1b)
		if esc < 0 {
			return cwds
		}
		rest := data[esc:]

		if len(rest) < len(osc7Marker) {
			if bytes.HasPrefix(osc7Marker, rest) {
				d.keep(rest)
			}
			return cwds
		}
		if !bytes.HasPrefix(rest, osc7Marker) {
			data = data[esc+1:]
			continue
		}

		payload := rest[len(osc7Marker):]
		end, termLen := findOscTerminator(payload)
		if end < 0 {
			if len(rest) <= oscMaxHold {
				d.keep(rest)
				return cwds
			}
			// Oversized unterminated sequence is abandoned
			data = data[esc+1:]
			continue
		}

		if cwd, ok := parseOsc7Payload(payload[:end]); ok {
			cwds = append(cwds, cwd)
		}
		data = payload[end+termLen:]
	}
}

// keep retains a partial sequence for the next Feed call.
func (d *CwdDetector) keep(b []byte) {
	d.hold = append(d.hold[:0], b...)
}

// findOscTerminator returns the payload length before the terminator and the
// terminator's length. BEL (0x07) and ST (ESC \) both end an OSC sequence.
// Returns (-1, 0) when no terminator is present yet; a trailing lone ESC is
// not a terminator (the backslash may arrive in the next chunk).
func findOscTerminator(p []byte) (int, int) {
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case 0x07:
			return i, 1
		case 0x1b:
			if i+1 < len(p) && p[i+1] == '\\' {
				return i, 2
			}
			if i+1 == len(p) {
				return -1, 0
			}
		}
	}
	return -1, 0
}

// parseOsc7Payload extracts the path from a file:// URI. The hostname, if
// present, is skipped; the path starts at the first slash after it.
func parseOsc7Payload(p []byte) (string, bool) {
	const scheme = "file://"
	if !bytes.HasPrefix(p, []byte(scheme)) {
		return "", false
	}
	rest := p[len(scheme):]
	if len(rest) == 0 {
		return "", false
	}
	if rest[0] != '/' {
		slash := bytes.IndexByte(rest, '/')
		if slash < 0 {
			return "", false
		}
		rest = rest[slash:]
	}
	return percentDecode(rest), true
}

// percentDecode decodes %XX escapes. Malformed escapes pass through verbatim.
func percentDecode(p []byte) string {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '%' && i+2 < len(p) {
			hi, okHi := hexVal(p[i+1])
			lo, okLo := hexVal(p[i+2])
			if okHi && okLo {
				out = append(out, hi<<4|lo)
				i += 2
				continue
			}
		}
		out = append(out, p[i])
	}
	return string(out)
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
