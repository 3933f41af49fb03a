package chain

// attribution.go — calldata suffix identifying this agent's transactions.
//
// Layout, appended after the ABI-encoded call:
//
//	[1 byte]  length of the code
//	[N bytes] ASCII agent code
//	[1 byte]  schema version (0x00)
//	[16 byte] fixed marker
//
// Indexers scan for the marker from the tail, read the schema byte, then
// recover the code. Contracts ignore trailing calldata bytes, so the suffix
// is free to append on any call.

// attributionMarker is the fixed 16-byte tail every tagged tx ends with.
var attributionMarker = [16]byte{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80, 0x21,
}

const attributionSchemaV0 = 0x00

// AttributionSuffix builds the suffix for an ASCII agent code. Codes longer
// than 255 bytes are truncated to fit the length byte.
func AttributionSuffix(code string) []byte {
	if len(code) > 255 {
		code = code[:255]
	}
	suffix := make([]byte, 0, 1+len(code)+1+len(attributionMarker))
	suffix = append(suffix, byte(len(code)))
	suffix = append(suffix, code...)
	suffix = append(suffix, attributionSchemaV0)
	suffix = append(suffix, attributionMarker[:]...)
	return suffix
}
