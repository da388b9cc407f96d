package util

import "strconv"

// MaskAccount hides the middle of an account number for logs, keeping the
// first two and last two characters.
func MaskAccount(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	masked := []byte(s)
	for i := 2; i < len(masked)-2; i++ {
		masked[i] = '*'
	}
	return string(masked)
}

// FormatWon renders an amount in won with thousands separators.
func FormatWon(v int64) string {
	s := strconv.FormatInt(v, 10)
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
