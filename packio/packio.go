// Package packio provides shared low-level pieces for the schemapack codecs:
// the output buffer, the error taxonomy, decode-path tracking and integer
// formatting helpers.
package packio

// TooBig is a byte count used for sanity checking before allocation and
// iteration with lengths decoded from messages. ErrTruncated is returned if a
// decoded length exceeds the remaining input; TooBig guards lengths that are
// plausible but absurd.
//
// By default it is 32MB on 32bit machines, and 128MB on 64bit machines.
var TooBig = uintptr(1 << (25 + ((^uint(0) >> 32) & 2)))
