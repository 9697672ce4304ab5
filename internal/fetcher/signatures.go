package fetcher

// signature is a magic-byte prefix identifying a binary format we refuse to
// treat as fetchable text content.
type signature struct {
	name   string
	magic  []byte
	offset int
}

// binarySignatures enumerates the byte prefixes sniffed before a body is
// accepted as text. Not exhaustive, but covers the formats most likely to
// show up behind a plain URL fetch.
var binarySignatures = []signature{
	{"pdf", []byte("%PDF-"), 0},
	{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, 0},
	{"jpeg", []byte{0xFF, 0xD8, 0xFF}, 0},
	{"gif87", []byte("GIF87a"), 0},
	{"gif89", []byte("GIF89a"), 0},
	{"bmp", []byte("BM"), 0},
	{"webp_riff", []byte("RIFF"), 0},
	{"zip", []byte{0x50, 0x4B, 0x03, 0x04}, 0},
	{"zip_empty", []byte{0x50, 0x4B, 0x05, 0x06}, 0},
	{"gzip", []byte{0x1F, 0x8B}, 0},
	{"bzip2", []byte("BZh"), 0},
	{"xz", []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}, 0},
	{"7z", []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}, 0},
	{"rar", []byte("Rar!\x1a\x07"), 0},
	{"elf", []byte{0x7F, 'E', 'L', 'F'}, 0},
	{"macho_32", []byte{0xFE, 0xED, 0xFA, 0xCE}, 0},
	{"macho_32_be", []byte{0xCE, 0xFA, 0xED, 0xFE}, 0},
	{"macho_64", []byte{0xFE, 0xED, 0xFA, 0xCF}, 0},
	{"macho_64_be", []byte{0xCF, 0xFA, 0xED, 0xFE}, 0},
	{"macho_fat", []byte{0xCA, 0xFE, 0xBA, 0xBE}, 0},
	{"pe_exe", []byte("MZ"), 0},
	{"class", []byte{0xCA, 0xFE, 0xBA, 0xBE}, 0},
	{"wasm", []byte{0x00, 'a', 's', 'm'}, 0},
	{"sqlite", []byte("SQLite format 3\x00"), 0},
	{"ogg", []byte("OggS"), 0},
	{"wav", []byte("RIFF"), 0},
	{"flac", []byte("fLaC"), 0},
	{"mp3_id3", []byte("ID3"), 0},
	{"mp4_ftyp", []byte("ftyp"), 4},
	{"tiff_le", []byte{0x49, 0x49, 0x2A, 0x00}, 0},
	{"tiff_be", []byte{0x4D, 0x4D, 0x00, 0x2A}, 0},
	{"ico", []byte{0x00, 0x00, 0x01, 0x00}, 0},
	{"ttf", []byte{0x00, 0x01, 0x00, 0x00, 0x00}, 0},
	{"woff", []byte("wOFF"), 0},
	{"woff2", []byte("wOF2"), 0},
}

// looksBinary reports whether buf's leading bytes match any known binary
// signature at its required offset
func looksBinary(buf []byte) bool {
	for _, sig := range binarySignatures {
		end := sig.offset + len(sig.magic)
		if len(buf) < end {
			continue
		}
		match := true
		for i, b := range sig.magic {
			if buf[sig.offset+i] != b {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
