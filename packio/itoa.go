package packio

// Pairs of decimal digits, used to halve the division count when formatting
// integers.
var digitPairs = [200]byte{
	'0', '0', '0', '1', '0', '2', '0', '3', '0', '4', '0', '5', '0', '6', '0', '7', '0', '8', '0', '9',
	'1', '0', '1', '1', '1', '2', '1', '3', '1', '4', '1', '5', '1', '6', '1', '7', '1', '8', '1', '9',
	'2', '0', '2', '1', '2', '2', '2', '3', '2', '4', '2', '5', '2', '6', '2', '7', '2', '8', '2', '9',
	'3', '0', '3', '1', '3', '2', '3', '3', '3', '4', '3', '5', '3', '6', '3', '7', '3', '8', '3', '9',
	'4', '0', '4', '1', '4', '2', '4', '3', '4', '4', '4', '5', '4', '6', '4', '7', '4', '8', '4', '9',
	'5', '0', '5', '1', '5', '2', '5', '3', '5', '4', '5', '5', '5', '6', '5', '7', '5', '8', '5', '9',
	'6', '0', '6', '1', '6', '2', '6', '3', '6', '4', '6', '5', '6', '6', '6', '7', '6', '8', '6', '9',
	'7', '0', '7', '1', '7', '2', '7', '3', '7', '4', '7', '5', '7', '6', '7', '7', '7', '8', '7', '9',
	'8', '0', '8', '1', '8', '2', '8', '3', '8', '4', '8', '5', '8', '6', '8', '7', '8', '8', '8', '9',
	'9', '0', '9', '1', '9', '2', '9', '3', '9', '4', '9', '5', '9', '6', '9', '7', '9', '8', '9', '9',
}

// AppendUint appends the decimal representation of v to dst.
func AppendUint(dst []byte, v uint64) []byte {
	var scratch [20]byte
	i := len(scratch)
	for v >= 100 {
		q := v / 100
		j := (v - q*100) * 2
		i -= 2
		scratch[i] = digitPairs[j]
		scratch[i+1] = digitPairs[j+1]
		v = q
	}
	if v >= 10 {
		j := v * 2
		i -= 2
		scratch[i] = digitPairs[j]
		scratch[i+1] = digitPairs[j+1]
	} else {
		i--
		scratch[i] = byte('0' + v)
	}
	return append(dst, scratch[i:]...)
}

// AppendInt appends the decimal representation of v to dst.
func AppendInt(dst []byte, v int64) []byte {
	u := uint64(v)
	if v < 0 {
		dst = append(dst, '-')
		u = -u
	}
	return AppendUint(dst, u)
}
