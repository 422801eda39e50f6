// Package wire defines the versioned ceremony envelope.
//
// Version 1 lays a message out as
//
//	u64 ceremony_id | u32 kind | u32 variant | payload
//
// using the little-endian, length-prefixed rules of package codec. The
// version 1 layout is frozen: existing encodings must stay byte for byte
// reproducible, and any change to the envelope needs a new version.
package wire
