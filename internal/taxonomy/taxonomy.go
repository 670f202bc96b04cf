// Package taxonomy maps NSL-KDD attack labels to their attack category.
package taxonomy

import "fmt"

// The closed set of attack categories.
const (
	DoS    = "DoS"
	Probe  = "Probe"
	R2L    = "R2L"
	U2R    = "U2R"
	Normal = "Normal"
)

// categories is the fixed load order of the category dimension.
var categories = []string{DoS, Probe, R2L, U2R, Normal}

// Taxonomy is an immutable label -> category mapping. The zero value maps
// every label to Normal.
type Taxonomy struct {
	byLabel map[string]string
}

// New builds a Taxonomy from labelToCategory. The map is copied; every value
// must be one of the five categories.
func New(labelToCategory map[string]string) (Taxonomy, error) {
	m := make(map[string]string, len(labelToCategory))
	for label, cat := range labelToCategory {
		if !IsCategory(cat) {
			return Taxonomy{}, fmt.Errorf("taxonomy: label %q: unknown category %q", label, cat)
		}
		if label == "" {
			return Taxonomy{}, fmt.Errorf("taxonomy: empty label for category %q", cat)
		}
		m[label] = cat
	}
	return Taxonomy{byLabel: m}, nil
}

// IsCategory reports whether name is one of the five categories.
func IsCategory(name string) bool {
	for _, c := range categories {
		if c == name {
			return true
		}
	}
	return false
}

// Category returns the category of label. Labels not in the table are Normal.
func (t Taxonomy) Category(label string) string {
	if c, ok := t.byLabel[label]; ok {
		return c
	}
	return Normal
}

// Known reports whether label is listed explicitly.
func (t Taxonomy) Known(label string) bool {
	_, ok := t.byLabel[label]
	return ok
}

// Categories returns the category names in dimension load order.
func (t Taxonomy) Categories() []string {
	return append([]string(nil), categories...)
}

// Default returns the NSL-KDD label table.
func Default() Taxonomy {
	t, err := New(nslKDD)
	if err != nil {
		panic(err)
	}
	return t
}

var nslKDD = map[string]string{
	"normal": Normal,

	"neptune":      DoS,
	"back":         DoS,
	"land":         DoS,
	"pod":          DoS,
	"smurf":        DoS,
	"teardrop":     DoS,
	"mailbomb":     DoS,
	"apache2":      DoS,
	"processtable": DoS,
	"udpstorm":     DoS,

	"ipsweep":   Probe,
	"nmap":      Probe,
	"portsweep": Probe,
	"satan":     Probe,
	"mscan":     Probe,
	"saint":     Probe,

	"ftp_write":     R2L,
	"guess_passwd":  R2L,
	"imap":          R2L,
	"multihop":      R2L,
	"phf":           R2L,
	"spy":           R2L,
	"warezclient":   R2L,
	"warezmaster":   R2L,
	"sendmail":      R2L,
	"named":         R2L,
	"snmpgetattack": R2L,
	"snmpguess":     R2L,
	"xlock":         R2L,
	"xsnoop":        R2L,
	"worm":          R2L,

	"buffer_overflow": U2R,
	"loadmodule":      U2R,
	"perl":            U2R,
	"rootkit":         U2R,
	"sqlattack":       U2R,
	"xterm":           U2R,
	"ps":              U2R,
}
