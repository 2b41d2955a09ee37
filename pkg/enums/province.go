package enums

import "strings"

// Province identifies the delivery region used for shipping rates.
type Province string

const (
	ProvinceGauteng      Province = "gauteng"
	ProvinceWesternCape  Province = "western_cape"
	ProvinceKwaZuluNatal Province = "kwazulu_natal"
	ProvinceEasternCape  Province = "eastern_cape"
	ProvinceFreeState    Province = "free_state"
	ProvinceMpumalanga   Province = "mpumalanga"
	ProvinceNorthWest    Province = "north_west"
	ProvinceLimpopo      Province = "limpopo"
	ProvinceNorthernCape Province = "northern_cape"
)

var provinces = values[Province]{
	ProvinceGauteng,
	ProvinceWesternCape,
	ProvinceKwaZuluNatal,
	ProvinceEasternCape,
	ProvinceFreeState,
	ProvinceMpumalanga,
	ProvinceNorthWest,
	ProvinceLimpopo,
	ProvinceNorthernCape,
}

// String implements fmt.Stringer.
func (p Province) String() string {
	return string(p)
}

func (p Province) IsValid() bool { return provinces.has(p) }

var provinceSeparators = strings.NewReplacer(" ", "_", "-", "_")

// ParseProvince accepts "Western Cape", "western-cape" or "western_cape".
func ParseProvince(value string) (Province, error) {
	return provinces.parse("province", provinceSeparators.Replace(strings.ToLower(strings.TrimSpace(value))))
}
