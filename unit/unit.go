// Package unit decomposes unit-of-measurement descriptors into an SI prefix
// and a base unit name, for example "km" into ("kilo", "metre").
package unit

import "strings"

// Unit is a decomposed unit of measurement. Prefix is empty for unprefixed
// units.
type Unit struct {
	Prefix string
	Name   string
}

// String joins prefix and name, e.g. "kilometre".
func (u Unit) String() string {
	return u.Prefix + u.Name
}

// IsZero reports whether u carries no unit.
func (u Unit) IsZero() bool {
	return u.Prefix == "" && u.Name == ""
}

type prefix struct {
	long, short string
}

// ordered longest first so "deca" wins over "d" and "da" over "d"
var prefixes = []prefix{
	{"yotta", "Y"}, {"zetta", "Z"}, {"exa", "E"}, {"peta", "P"}, {"tera", "T"},
	{"giga", "G"}, {"mega", "M"}, {"kilo", "k"}, {"hecto", "h"}, {"deca", "da"},
	{"deci", "d"}, {"centi", "c"}, {"milli", "m"}, {"micro", "u"}, {"micro", "µ"},
	{"nano", "n"}, {"pico", "p"}, {"femto", "f"}, {"atto", "a"}, {"zepto", "z"},
	{"yocto", "y"},
}

// base units keyed by symbol; long names and common spellings map to the
// same canonical name
var symbols = map[string]string{
	"m": "metre", "g": "gram", "s": "second", "A": "ampere", "K": "kelvin",
	"mol": "mole", "cd": "candela", "W": "watt", "J": "joule", "V": "volt",
	"Hz": "hertz", "Pa": "pascal", "N": "newton", "B": "byte", "bit": "bit",
	"L": "litre", "l": "litre", "Wh": "watthour", "Ohm": "ohm", "Ω": "ohm",
	"bar": "bar", "lx": "lux",
}

var longNames = map[string]string{
	"metre": "metre", "meter": "metre", "gram": "gram", "second": "second",
	"ampere": "ampere", "kelvin": "kelvin", "mole": "mole", "candela": "candela",
	"watt": "watt", "joule": "joule", "volt": "volt", "hertz": "hertz",
	"pascal": "pascal", "newton": "newton", "byte": "byte", "bit": "bit",
	"litre": "litre", "liter": "litre", "watthour": "watthour", "ohm": "ohm",
	"bar": "bar", "lux": "lux",
}

// never prefixed
var standalone = map[string]string{
	"degC": "degC", "celsius": "degC", "°C": "degC",
	"degF": "degF", "fahrenheit": "degF", "°F": "degF",
	"percent": "percent", "%": "percent",
	"rpm": "rpm", "ppm": "ppm",
	"minute": "minute", "min": "minute", "hour": "hour", "h": "hour", "day": "day",
}

// Parse decomposes descriptor. Unrecognized descriptors are returned
// unchanged as the name with ok false, so a gateway never drops a metric
// because of an exotic unit.
func Parse(descriptor string) (u Unit, ok bool) {
	d := strings.TrimSpace(descriptor)
	if d == "" {
		return Unit{}, false
	}

	if name, found := standalone[d]; found {
		return Unit{Name: name}, true
	}
	if name, found := longNames[strings.ToLower(d)]; found {
		return Unit{Name: name}, true
	}
	if name, found := symbols[d]; found {
		return Unit{Name: name}, true
	}

	lower := strings.ToLower(d)
	for _, p := range prefixes {
		if rest, found := strings.CutPrefix(lower, p.long); found {
			if name, known := longNames[rest]; known {
				return Unit{Prefix: p.long, Name: name}, true
			}
		}
	}

	// symbols are case sensitive: "mW" is milliwatt, "MW" megawatt
	for _, p := range prefixes {
		if rest, found := strings.CutPrefix(d, p.short); found {
			if name, known := symbols[rest]; known {
				return Unit{Prefix: p.long, Name: name}, true
			}
		}
	}

	return Unit{Name: d}, false
}
