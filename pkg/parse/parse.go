package parse

import (
	"fmt"
	"strconv"
	"strings"
)

// Helpers for the parseable output of host utilities (dladm, ipadm, kstat,
// zfs, zpool and friends): one record per line, colon-separated, with
// backslash escapes inside fields. Utilities that ignore the parseable flag
// fall back to human-format tables; those header rows must be rejected, not
// stored.

// headerKeywords are first-column tokens of known human-format headers.
// Parseable output never yields these: link names, states and addresses are
// lowercase on illumos.
var headerKeywords = map[string]bool{
	"LINK": true, "CLASS": true, "MTU": true, "STATE": true, "BRIDGE": true,
	"OVER": true, "SPEED": true, "DUPLEX": true, "DEVICE": true, "MEDIA": true,
	"MACADDRESS": true, "MACADDRTYPE": true, "VID": true, "ZONE": true,
	"IPACKETS": true, "RBYTES": true, "IERRORS": true,
	"OPACKETS": true, "OBYTES": true, "OERRORS": true,
	"ADDROBJ": true, "TYPE": true, "ADDR": true,
	"DISK": true, "VENDOR": true, "PRODUCT": true, "SIZE": true,
	"PATH": true, "DRIVER": true, "INSTANCE": true, "BDF": true,
	"SWAPFILE": true, "NAME": true, "POOL": true, "USED": true, "AVAIL": true,
	"Routing": true, "Destination": true, "Gateway": true, "Interface": true,
}

// SplitColon splits one parseable-output line on unescaped colons.
// `\:` yields a literal colon inside a field (MAC addresses, IPv6) and
// `\\` a literal backslash. A dangling trailing backslash is kept as is.
func SplitColon(line string) []string {
	fields := make([]string, 0, 8)
	var b strings.Builder
	esc := false
	for _, r := range line {
		switch {
		case esc:
			b.WriteRune(r)
			esc = false
		case r == '\\':
			esc = true
		case r == ':':
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if esc {
		b.WriteByte('\\')
	}
	return append(fields, b.String())
}

// Lines splits command output into lines, dropping blank ones and
// trailing carriage returns. Leading whitespace is preserved so
// whitespace-delimited formats stay intact.
func Lines(out string) []string {
	raw := strings.Split(out, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// IsAbsent reports whether a field is a placeholder for "no value".
// dladm prints `--`, zfs prints `-`, and some utilities emit nothing.
func IsAbsent(field string) bool {
	return field == "" || field == "-" || field == "--"
}

// IsHeaderField reports whether a field is the first column of a known
// human-format header line.
func IsHeaderField(field string) bool {
	return headerKeywords[field]
}

// Counter parses a cumulative counter field. Anything but a plain
// non-negative decimal integer is an error; rows with such fields are
// dropped rather than stored.
func Counter(field string) (int64, error) {
	if IsAbsent(field) {
		return 0, fmt.Errorf("counter field is absent")
	}
	for _, r := range field {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("counter field %q is not a non-negative integer", field)
		}
	}
	v, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter field %q: %w", field, err)
	}
	return v, nil
}

// OptionalCounter parses a counter field that may legitimately be absent.
// Absent yields (0, false, nil).
func OptionalCounter(field string) (int64, bool, error) {
	if IsAbsent(field) {
		return 0, false, nil
	}
	v, err := Counter(field)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// ResolveTruncated maps a possibly-truncated entity name back to its full
// form using the known names for this host. Statistics output truncates
// long link names; the truncated form is always a prefix of the full name.
// Returns the full name on an exact or unique-prefix match, "" otherwise.
func ResolveTruncated(name string, known []string) string {
	if name == "" {
		return ""
	}
	match := ""
	for _, k := range known {
		if k == name {
			return k
		}
		if strings.HasPrefix(k, name) {
			if match != "" {
				return "" // ambiguous
			}
			match = k
		}
	}
	return match
}
