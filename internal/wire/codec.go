package wire

// Base64 codec for bytes-typed wire fields.
//
// Google REST payloads carry binary field content (fingerprints, etags,
// profile bytes, HTTP body payloads) as standard-alphabet base64 text,
// RFC 4648 section 4, with '=' padding and no URL-safe variant. Decode
// rejects anything Encode cannot have produced, which keeps
// Encode(Decode(s)) == s for every accepted input.

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

const padChar = '='

// reverse lookup, 0xFF marks characters outside the alphabet
var decodeMap [256]byte

func init() {
	for i := range decodeMap {
		decodeMap[i] = 0xFF
	}
	for i := 0; i < len(alphabet); i++ {
		decodeMap[alphabet[i]] = byte(i)
	}
}

// Encode converts a byte sequence to its standard base64 wire form.
// Empty input encodes to the empty string.
func Encode(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	out := make([]byte, (len(b)+2)/3*4)
	di := 0

	n := len(b) / 3 * 3
	for i := 0; i < n; i += 3 {
		v := uint(b[i])<<16 | uint(b[i+1])<<8 | uint(b[i+2])
		out[di] = alphabet[v>>18]
		out[di+1] = alphabet[v>>12&0x3F]
		out[di+2] = alphabet[v>>6&0x3F]
		out[di+3] = alphabet[v&0x3F]
		di += 4
	}

	switch len(b) - n {
	case 1:
		v := uint(b[n]) << 16
		out[di] = alphabet[v>>18]
		out[di+1] = alphabet[v>>12&0x3F]
		out[di+2] = padChar
		out[di+3] = padChar
	case 2:
		v := uint(b[n])<<16 | uint(b[n+1])<<8
		out[di] = alphabet[v>>18]
		out[di+1] = alphabet[v>>12&0x3F]
		out[di+2] = alphabet[v>>6&0x3F]
		out[di+3] = padChar
	}

	return string(out)
}

// Decode converts a base64 wire string back to its byte sequence. The
// input must be validly padded standard base64: length a multiple of
// four, no characters outside the alphabet, padding only at the end, and
// no set bits beyond the encoded payload. Anything else fails with a
// *DecodeError.
func Decode(s string) ([]byte, error) {
	if len(s) == 0 {
		return []byte{}, nil
	}
	if len(s)%4 != 0 {
		return nil, &DecodeError{Value: s, Reason: "length is not a multiple of 4"}
	}

	// Padding appears only as the final one or two characters.
	pad := 0
	if s[len(s)-1] == padChar {
		pad = 1
		if s[len(s)-2] == padChar {
			pad = 2
		}
	}

	out := make([]byte, 0, len(s)/4*3)
	for i := 0; i < len(s); i += 4 {
		var v uint
		chars := 4
		if i+4 == len(s) {
			chars = 4 - pad
		}
		for j := 0; j < chars; j++ {
			c := s[i+j]
			d := decodeMap[c]
			if d == 0xFF {
				reason := "invalid character"
				if c == padChar {
					reason = "misplaced padding"
				}
				return nil, &DecodeError{Value: s, Reason: reason}
			}
			v = v<<6 | uint(d)
		}

		switch chars {
		case 4:
			out = append(out, byte(v>>16), byte(v>>8), byte(v))
		case 3:
			// 18 data bits carry 2 bytes, low 2 bits must be zero
			if v&0x3 != 0 {
				return nil, &DecodeError{Value: s, Reason: "non-zero trailing bits"}
			}
			out = append(out, byte(v>>10), byte(v>>2))
		case 2:
			// 12 data bits carry 1 byte, low 4 bits must be zero
			if v&0xF != 0 {
				return nil, &DecodeError{Value: s, Reason: "non-zero trailing bits"}
			}
			out = append(out, byte(v>>4))
		}
	}

	return out, nil
}
