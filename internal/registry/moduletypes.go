package registry

import "fmt"

// Category approximates the family a module type belongs to. Spec §3.1
// promises a "category" attribute but neither spec.md nor the filtered
// original_source/ defines the exact taxonomy, so this is a best-effort
// grouping by known product family — see DESIGN.md Open Question 4.
type Category string

const (
	CategoryRelay      Category = "relay"
	CategoryDimmer     Category = "dimmer"
	CategoryPushButton Category = "push_button"
	CategoryController Category = "controller"
	CategoryUnknown    Category = "unknown"
)

// ModuleType describes one module-type code entry in the registry.
type ModuleType struct {
	Code        int
	Name        string
	Description string
	Category    Category
	// HasActionTable reports whether modules of this type are expected to
	// carry a programmed action table (spec §3.1 Module.action_table).
	HasActionTable bool
}

// ModuleTypes is the static, authoritative subset of module-type codes from
// spec §6.2, supplemented with name/category/capability metadata.
var ModuleTypes = map[int]ModuleType{
	0:  {0, "NOMOD", "no module configured", CategoryUnknown, false},
	1:  {1, "ALLMOD", "wildcard matching any module", CategoryUnknown, false},
	2:  {2, "CP20", "concentrator / bus coupler", CategoryController, false},
	7:  {7, "XP24", "relay module, 24 outputs", CategoryRelay, true},
	8:  {8, "XP31UNI", "universal dimmer/relay module", CategoryDimmer, true},
	11: {11, "XP33", "3-channel dimmer module", CategoryDimmer, true},
	13: {13, "XP130", "bus interface / gateway module", CategoryController, false},
	14: {14, "XP2606", "push-button panel, 6 inputs", CategoryPushButton, false},
	22: {22, "XPX1_8", "8-input push-button panel", CategoryPushButton, false},
	23: {23, "XP134", "relay module variant", CategoryRelay, true},
	33: {33, "XP20", "relay module, 20 outputs", CategoryRelay, true},
	34: {34, "XP230", "dimmer module variant", CategoryDimmer, true},
	30: {30, "XP33LR", "3-channel dimmer, long-range variant (storm-mode capable)", CategoryDimmer, true},
	36: {36, "XP33LED", "3-channel LED dimmer module", CategoryDimmer, true},
	37: {37, "XP31LED", "universal LED dimmer/relay module", CategoryDimmer, true},
}

// Lookup returns the ModuleType for code, or ok=false if the code is not in
// the registry.
func Lookup(code int) (ModuleType, bool) {
	mt, ok := ModuleTypes[code]
	return mt, ok
}

// Name returns the module type's short name, or a synthetic UNKNOWN(n) label.
func Name(code int) string {
	if mt, ok := ModuleTypes[code]; ok {
		return mt.Name
	}
	return fmt.Sprintf("UNKNOWN(%d)", code)
}

// ByName looks up a module type by its short name (case-sensitive, as the
// names are always upper-case in the registry).
func ByName(name string) (ModuleType, bool) {
	for _, mt := range ModuleTypes {
		if mt.Name == name {
			return mt, true
		}
	}
	return ModuleType{}, false
}
