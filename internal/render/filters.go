package render

import "strings"

// Filter is a named CSS filter-function string.
type Filter struct {
	Name      string `json:"name"`
	Transform string `json:"transform"`
}

// FreeFilterMaxIndex is the last catalog index available without premium.
const FreeFilterMaxIndex = 2

// Filters is the fixed catalog. Order matters: entitlement gating is by index.
var Filters = [...]Filter{
	{Name: "Normal", Transform: "none"},
	{Name: "Grayscale", Transform: "grayscale(100%)"},
	{Name: "Sepia", Transform: "sepia(100%)"},
	{Name: "Contrast", Transform: "contrast(150%)"},
	{Name: "Brightness", Transform: "brightness(120%)"},
	{Name: "Blur", Transform: "blur(2px)"},
	{Name: "Invert", Transform: "invert(100%)"},
	{Name: "Saturate", Transform: "saturate(200%)"},
}

// NormalFilter is the identity entry.
func NormalFilter() Filter {
	return Filters[0]
}

// FilterByName looks up a catalog entry case-insensitively.
func FilterByName(name string) (Filter, int, bool) {
	for i, f := range Filters {
		if strings.EqualFold(f.Name, name) {
			return f, i, true
		}
	}
	return Filter{}, -1, false
}

// ResolveFilter returns the catalog entry for index, or Normal when the index
// is out of range or locked for the given entitlement. The bool reports
// whether a fallback happened.
func ResolveFilter(index int, ent EntitlementState) (Filter, int, bool) {
	if index == 0 {
		return NormalFilter(), 0, false
	}
	if !ent.FilterUnlocked(index) {
		return NormalFilter(), 0, true
	}
	return Filters[index], index, false
}
