package domain

// Bundle is a purchasable point pack
type Bundle struct {
	ID         string `json:"id"`          // Bundle id
	Points     int64  `json:"points"`      // Points granted
	PriceCents int64  `json:"price_cents"` // Price charged by the payment processor
}

// Bundles is the fixed a-la-carte catalogue
var Bundles = []Bundle{
	{ID: "boost_100", Points: 100, PriceCents: 499},
	{ID: "boost_500", Points: 500, PriceCents: 1999},
	{ID: "boost_1000", Points: 1000, PriceCents: 3499},
	{ID: "boost_2500", Points: 2500, PriceCents: 7999},
}

// LookupBundle finds a bundle by id
func LookupBundle(id string) (Bundle, bool) {
	for _, b := range Bundles {
		if b.ID == id {
			return b, true
		}
	}
	return Bundle{}, false
}
