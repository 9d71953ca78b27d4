package core

// charset.go normalizes CSV bytes before encoding/csv sees them: a leading
// UTF-8 BOM is dropped, payloads that are not UTF-8 are decoded from the
// configured legacy code page, and any bytes still invalid become '?'.

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encoding names a legacy single-byte code page for CSV input.
type Encoding string

const (
	EncodingUTF8        Encoding = "utf-8"
	EncodingWindows1251 Encoding = "windows-1251"
	EncodingWindows1252 Encoding = "windows-1252"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseEncoding maps a configured name to an Encoding. Empty means UTF-8.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "windows-1251", "cp1251":
		return EncodingWindows1251, nil
	case "windows-1252", "cp1252":
		return EncodingWindows1252, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", s)
	}
}

func (e Encoding) charmap() *charmap.Charmap {
	switch e {
	case EncodingWindows1251:
		return charmap.Windows1251
	case EncodingWindows1252:
		return charmap.Windows1252
	}
	return nil
}

// normalizeCSV returns data as valid UTF-8 without a BOM.
func normalizeCSV(data []byte, enc Encoding) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data
	}
	if cm := enc.charmap(); cm != nil {
		if decoded, err := cm.NewDecoder().Bytes(data); err == nil {
			return decoded
		}
	}
	return bytes.ToValidUTF8(data, []byte("?"))
}
