package pricing

import "strings"

// ProductKey identifies a sellable product family. Keys are stable and never
// reused for a different product.
type ProductKey string

const (
	// Complex is the flagship vitamin complex. It carries the bulk override and
	// triggers the bonus rule in the default configuration.
	Complex ProductKey = "COMPLEX"
	// ComplexExtra is the extended complex, granted as the bonus reward.
	ComplexExtra ProductKey = "COMPLEX_EXTRA"
	// GelminKids is the children's antiparasitic gel.
	GelminKids ProductKey = "GELMIN_KIDS"
)

// ParseProductKey normalises user supplied identifiers such as "complex-extra"
// or " Gelmin Kids " into their canonical form. It does not check that the key
// is configured; use Engine.Known for that.
func ParseProductKey(raw string) ProductKey {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	return ProductKey(s)
}

func (k ProductKey) String() string { return string(k) }
