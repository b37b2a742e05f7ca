package constants

// CreditPackID identifies a purchasable credit pack.
type CreditPackID string

const (
	PackStarter CreditPackID = "starter"
	PackGrowth  CreditPackID = "growth"
	PackPro     CreditPackID = "pro"
)

// CreditPack describes a purchasable bundle of credits.
type CreditPack struct {
	DisplayName string
	Credits     int64
	Order       int
}

// CreditPacks is the table of packs offered at checkout.
var CreditPacks = map[CreditPackID]CreditPack{
	PackStarter: {DisplayName: "Starter", Credits: 50, Order: 0},
	PackGrowth:  {DisplayName: "Growth", Credits: 200, Order: 1},
	PackPro:     {DisplayName: "Pro", Credits: 500, Order: 2},
}

// LookupCreditPack returns the pack for an explicit identifier.
func LookupCreditPack(id string) (CreditPackID, CreditPack, bool) {
	pack, ok := CreditPacks[CreditPackID(id)]
	return CreditPackID(id), pack, ok
}

// InferCreditPack guesses a pack from a raw credit amount. Checkouts created
// before the pack id was added to session metadata only carry the amount.
// Any non-standard amount is labelled with the nearest tier above it.
func InferCreditPack(credits int64) CreditPackID {
	switch {
	case credits <= 50:
		return PackStarter
	case credits <= 200:
		return PackGrowth
	default:
		return PackPro
	}
}
