package orders

import "github.com/angelmondragon/courier-backend/pkg/enums"

// FreeShippingThresholdCents is the subtotal from which delivery is free (R500.00).
const FreeShippingThresholdCents = 50_000

var shippingFeeByProvince = map[enums.Province]int{
	enums.ProvinceGauteng:      5_000,
	enums.ProvinceWesternCape:  6_500,
	enums.ProvinceKwaZuluNatal: 6_500,
	enums.ProvinceEasternCape:  7_500,
	enums.ProvinceFreeState:    7_500,
	enums.ProvinceMpumalanga:   7_500,
	enums.ProvinceNorthWest:    7_500,
	enums.ProvinceLimpopo:      9_500,
	enums.ProvinceNorthernCape: 9_500,
}

// ShippingFeeCents returns the delivery fee for one store order.
func ShippingFeeCents(province enums.Province, subtotalCents int) int {
	if subtotalCents >= FreeShippingThresholdCents {
		return 0
	}
	return shippingFeeByProvince[province]
}
