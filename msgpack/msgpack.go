// Package msgpack implements the MessagePack codec: a reflection-driven
// encoder dispatching on runtime type, and a schema-directed decoder driven
// by compiled TypeNodes.
package msgpack

// MessagePack opcodes.
const (
	mpFixIntMax  = 0x7f
	mpFixMap     = 0x80
	mpFixArray   = 0x90
	mpFixStr     = 0xa0
	mpNil        = 0xc0
	mpFalse      = 0xc2
	mpTrue       = 0xc3
	mpBin8       = 0xc4
	mpBin16      = 0xc5
	mpBin32      = 0xc6
	mpExt8       = 0xc7
	mpExt16      = 0xc8
	mpExt32      = 0xc9
	mpFloat32    = 0xca
	mpFloat64    = 0xcb
	mpUint8      = 0xcc
	mpUint16     = 0xcd
	mpUint32     = 0xce
	mpUint64     = 0xcf
	mpInt8       = 0xd0
	mpInt16      = 0xd1
	mpInt32      = 0xd2
	mpInt64      = 0xd3
	mpFixExt1    = 0xd4
	mpFixExt2    = 0xd5
	mpFixExt4    = 0xd6
	mpFixExt8    = 0xd7
	mpFixExt16   = 0xd8
	mpStr8       = 0xd9
	mpStr16      = 0xda
	mpStr32      = 0xdb
	mpArray16    = 0xdc
	mpArray32    = 0xdd
	mpMap16      = 0xde
	mpMap32      = 0xdf
	mpNegFixInt  = 0xe0
)

// extTimestamp is the reserved extension type for timestamps.
const (
	extTimestamp     int8 = -1
	extTimestampByte byte = 0xff
)

// Unix second bounds of the supported year range [0001, 9999].
const (
	minTimestampSec = -62135596800
	maxTimestampSec = 253402300799
)

const maxDepth = 512
