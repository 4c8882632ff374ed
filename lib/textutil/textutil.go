package textutil

import (
	"regexp"
	"strconv"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

func NormalizeAddress(addr string) string {
	addr = strings.ToLower(addr)
	addr = strings.Trim(addr, " \n\t")
	addr = whitespaceRegex.ReplaceAllString(addr, " ")
	return addr
}

// reports whether the address contains any of the hide tokens as a
// case-insensitive substring
func MatchAddress(addr string, tokens []string) bool {
	addr = NormalizeAddress(addr)
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if strings.Contains(addr, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

var digitRegex = regexp.MustCompile(`[0-9]`)

// takes the last comma-separated segment of an address that is neither
// a county ("co. ...") nor contains a digit, which on Irish listing
// addresses is usually the place name
func ExtractPlaceName(addr string) string {
	segments := strings.Split(strings.ToLower(addr), ",")
	place := ""
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" || strings.Contains(seg, "co. ") || digitRegex.MatchString(seg) {
			continue
		}
		place = seg
	}
	return place
}

func Capitalize(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

var priceDigits = regexp.MustCompile(`[0-9][0-9,]*`)

// parses a display price such as "€350,000" or "€2,200 per month" into
// a comparable integer amount, zero when no amount is present (e.g.
// "Price on Application")
func ParsePrice(display string) int {
	m := priceDigits.FindString(display)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0
	}
	return n
}
