package mprls

import (
	"fmt"
	"sort"
	"strings"
)

// Units maps lower case unit names to the factor converting psi into them.
var Units = map[string]float64{
	"psi":  1,
	"hpa":  PSIToHPA,
	"mbar": PSIToHPA,
	"kpa":  PSIToHPA / 10,
	"pa":   psiToPa,
	"bar":  PSIToHPA / 1000,
	"atm":  psiToPa / 101325,
	"mmhg": psiToPa / 133.322387415,
	"inhg": psiToPa / 3386.389,
}

// UnitFactor returns the factor converting psi into the named unit. Names are
// case insensitive.
func UnitFactor(name string) (float64, error) {
	if f, ok := Units[strings.ToLower(strings.TrimSpace(name))]; ok {
		return f, nil
	}
	names := make([]string, 0, len(Units))
	for n := range Units {
		names = append(names, n)
	}
	sort.Strings(names)
	return 0, fmt.Errorf("mprls: unknown unit %q, want one of %s", name, strings.Join(names, ", "))
}
