package cfproto

import "golang.org/x/text/encoding/charmap"

// decodeLatin1 converts server text such as face names to UTF-8.
func decodeLatin1(b []byte) string {
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// encodeLatin1 converts client text to the server charset, replacing
// characters it cannot carry.
func encodeLatin1(s string) []byte {
	b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		out := make([]byte, 0, len(s))
		for _, r := range s {
			if r > 0xff {
				r = '?'
			}
			out = append(out, byte(r))
		}
		return out
	}
	return b
}
