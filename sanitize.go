package serial

import "bytes"

// trimSet lists the only bytes Sanitize removes. Tabs and other control
// bytes are left in place.
const trimSet = " \r\n"

// Sanitize strips leading and trailing spaces, carriage returns and line
// feeds from raw. The result is a sub-slice of raw and may be empty.
func Sanitize(raw []byte) []byte {
	return bytes.Trim(raw, trimSet)
}

// SanitizeString is the string form of Sanitize.
func SanitizeString(raw string) string {
	return string(Sanitize([]byte(raw)))
}
