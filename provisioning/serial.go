package provisioning

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/ruteri/eloc-provisioning/interfaces"
)

// integerEncodingMax maps NVS integer encodings to the largest value they hold.
var integerEncodingMax = map[string]uint64{
	"u8":  math.MaxUint8,
	"u16": math.MaxUint16,
	"u32": math.MaxUint32,
	"u64": math.MaxUint64,
	"i8":  math.MaxInt8,
	"i16": math.MaxInt16,
	"i32": math.MaxInt32,
	"i64": math.MaxInt64,
}

// IncrementDecimal adds one to a decimal digit string, keeping its width by zero
// padding. A carry out of the leading digit grows the width by one ("999" becomes
// "1000"); the serial is never truncated or wrapped.
func IncrementDecimal(s string) (string, error) {
	if s == "" {
		return "", interfaces.ErrMissingSerial
	}

	digits := []byte(s)
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("%w: serial %q is not a decimal number", interfaces.ErrMalformedRecord, s)
		}
	}

	for i := len(digits) - 1; i >= 0; i-- {
		if digits[i] != '9' {
			digits[i]++
			return string(digits), nil
		}
		digits[i] = '0'
	}

	return "1" + string(digits), nil
}

// CheckEncodingFits verifies that a decimal value fits the NVS integer encoding of
// its field. Non-integer encodings (string, hex2bin, ...) accept any value.
func CheckEncodingFits(value, encoding string) error {
	limit, ok := integerEncodingMax[encoding]
	if !ok {
		return nil
	}

	n, err := strconv.ParseUint(value, 10, 64)
	if errors.Is(err, strconv.ErrRange) || (err == nil && n > limit) {
		return fmt.Errorf("%w: %s does not fit %s (max %d)", interfaces.ErrSerialOverflow, value, encoding, limit)
	} else if err != nil {
		return fmt.Errorf("%w: %q: %v", interfaces.ErrMalformedRecord, value, err)
	}
	return nil
}
