package market

import "sync"

// Catalog is the in-memory instrument/product registry. It is loaded from
// reference data at session start and read concurrently afterwards.
type Catalog struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument // by ID
	bySymbol    map[string]string      // symbol -> ID
	products    map[string]*Product
}

func NewCatalog() *Catalog {
	return &Catalog{
		instruments: make(map[string]*Instrument),
		bySymbol:    make(map[string]string),
		products:    make(map[string]*Product),
	}
}

func (c *Catalog) Add(inst *Instrument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instruments[inst.ID] = inst
	if inst.Symbol != "" {
		c.bySymbol[inst.Symbol] = inst.ID
	}
}

func (c *Catalog) AddProduct(p *Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *Catalog) ByID(id string) (*Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.instruments[id]
	return inst, ok
}

func (c *Catalog) BySymbol(symbol string) (*Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.bySymbol[symbol]
	if !ok {
		return nil, false
	}
	inst, ok := c.instruments[id]
	return inst, ok
}

// SymbolToID resolves a quote symbol like "EUR/USD" to its security id.
func (c *Catalog) SymbolToID(symbol string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.bySymbol[symbol]
	return id, ok
}

func (c *Catalog) Product(id string) (*Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	return p, ok
}

// Instruments returns every instrument belonging to product.
func (c *Catalog) Instruments(productID string) []*Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Instrument
	for _, inst := range c.instruments {
		if inst.Product == productID {
			out = append(out, inst)
		}
	}
	return out
}

func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.instruments))
	for id := range c.instruments {
		ids = append(ids, id)
	}
	return ids
}
