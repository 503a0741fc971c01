package scanner

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// reservedNames mirrors the teacher's Windows/OneDrive device-name
// guard; dsg repositories can be shared onto those hosts too, so the
// same validation applies regardless of which OS is running dsg.
var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
}

func init() {
	for i := 0; i <= 9; i++ {
		reservedNames[fmt.Sprintf("COM%d", i)] = struct{}{}
		reservedNames[fmt.Sprintf("LPT%d", i)] = struct{}{}
	}
}

// ValidateName checks a single path component against dsg's naming
// rules: no control characters, no trailing space or period, not a
// reserved device name (case-insensitive).
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty path component")
	}

	for _, r := range name {
		if r < 0x20 {
			return fmt.Errorf("%q contains a control character", name)
		}
	}

	if strings.HasSuffix(name, " ") || strings.HasSuffix(name, ".") {
		return fmt.Errorf("%q has trailing space or period", name)
	}

	upper := strings.ToUpper(name)
	if idx := strings.IndexByte(upper, '.'); idx >= 0 {
		upper = upper[:idx]
	}

	if _, reserved := reservedNames[upper]; reserved {
		return fmt.Errorf("%q is a reserved device name", name)
	}

	return nil
}

// NormalizeNFC returns the NFC-normalized form of a relative path. dsg
// stores every manifest path in NFC so that the same tree scanned on
// macOS (which defaults to NFD on disk) and Linux compares equal.
func NormalizeNFC(relPath string) string {
	return norm.NFC.String(relPath)
}

// NeedsNormalization reports whether relPath is not already NFC, i.e.
// whether a --normalize pass would rename it on disk.
func NeedsNormalization(relPath string) bool {
	return !norm.NFC.IsNormalString(relPath)
}
