package market

import (
	"errors"
	"fmt"
)

var ErrNoRate = errors.New("market: no conversion rate")

// Converter converts cash amounts between currencies using quoted currency
// pairs from the catalog. A directly quoted FROM/TO pair multiplies by the
// ask; the inverse TO/FROM pair divides by the bid.
type Converter struct {
	catalog *Catalog
	oracle  PriceOracle
}

func NewConverter(catalog *Catalog, oracle PriceOracle) *Converter {
	return &Converter{catalog: catalog, oracle: oracle}
}

func (c *Converter) Convert(value float64, from, to string) (float64, error) {
	if from == to || value == 0 {
		return value, nil
	}
	if id, ok := c.catalog.SymbolToID(from + "/" + to); ok {
		rate, err := c.oracle.CurrentPrice(id, Ask)
		if err != nil {
			return 0, err
		}
		return value * rate, nil
	}
	if id, ok := c.catalog.SymbolToID(to + "/" + from); ok {
		rate, err := c.oracle.CurrentPrice(id, Bid)
		if err != nil {
			return 0, err
		}
		if rate == 0 {
			return 0, ErrNoPrice
		}
		return value / rate, nil
	}
	return 0, fmt.Errorf("%w: %s to %s", ErrNoRate, from, to)
}
