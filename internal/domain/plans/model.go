package plans

type Plan struct {
	Name          string `json:"plan"`
	StripePriceID string `json:"priceId"`
	Credits       int    `json:"credits"`
}

// Catalog maps Stripe price ids to plans. Only prices in the catalog can be
// bought.
type Catalog struct {
	plans   []Plan
	byPrice map[string]Plan
	byName  map[string]Plan
}

// NewCatalog builds a catalog from plan name -> Stripe price id. Plans with
// an empty price id or an unknown name are skipped.
func NewCatalog(prices map[string]string) *Catalog {
	c := &Catalog{byPrice: map[string]Plan{}, byName: map[string]Plan{}}
	for _, name := range []string{Bronze, Silver, Gold} {
		priceID := prices[name]
		if priceID == "" {
			continue
		}
		p := Plan{Name: name, StripePriceID: priceID, Credits: CreditsFor(name)}
		c.plans = append(c.plans, p)
		c.byPrice[priceID] = p
		c.byName[name] = p
	}
	return c
}

func (c *Catalog) ByPrice(priceID string) (Plan, bool) {
	p, ok := c.byPrice[priceID]
	return p, ok
}

func (c *Catalog) ByName(name string) (Plan, bool) {
	name, _ = Normalize(name)
	p, ok := c.byName[name]
	return p, ok
}

func (c *Catalog) All() []Plan {
	return append([]Plan(nil), c.plans...)
}
