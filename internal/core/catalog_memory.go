package core

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCatalog is an in-process Catalog. Transactions are serialized and
// work on a copy of the state that replaces the original only on commit,
// so a failed transaction leaves nothing behind.
type MemoryCatalog struct {
	mu    sync.Mutex
	state *memoryState
}

type productKey struct {
	supplierID string
	sku        string
}

type memoryState struct {
	products  map[uuid.UUID]SupplierProduct
	byKey     map[productKey]uuid.UUID
	prices    map[uuid.UUID][]PriceHistory // by product, append order
	inventory map[uuid.UUID]InventoryItem
	invByProd map[uuid.UUID]uuid.UUID
	movements []StockMovement
	uploads   map[uuid.UUID]Upload
}

// NewMemoryCatalog returns an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{state: &memoryState{
		products:  make(map[uuid.UUID]SupplierProduct),
		byKey:     make(map[productKey]uuid.UUID),
		prices:    make(map[uuid.UUID][]PriceHistory),
		inventory: make(map[uuid.UUID]InventoryItem),
		invByProd: make(map[uuid.UUID]uuid.UUID),
		uploads:   make(map[uuid.UUID]Upload),
	}}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		products:  maps.Clone(s.products),
		byKey:     maps.Clone(s.byKey),
		prices:    make(map[uuid.UUID][]PriceHistory, len(s.prices)),
		inventory: maps.Clone(s.inventory),
		invByProd: maps.Clone(s.invByProd),
		movements: append([]StockMovement(nil), s.movements...),
		uploads:   maps.Clone(s.uploads),
	}
	for id, list := range s.prices {
		c.prices[id] = append([]PriceHistory(nil), list...)
	}
	return c
}

// InTx implements Catalog.
func (c *MemoryCatalog) InTx(ctx context.Context, fn func(tx CatalogTx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := c.state.clone()
	if err := fn(&memoryTx{s: work}); err != nil {
		return err
	}
	c.state = work
	return nil
}

// PriceHistory implements Catalog.
func (c *MemoryCatalog) PriceHistory(_ context.Context, productID uuid.UUID, limit int) ([]PriceHistory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.state.products[productID]; !ok {
		return nil, ErrProductNotFound
	}
	list := append([]PriceHistory(nil), c.state.prices[productID]...)
	// Append order is chronological; reverse for most recent first.
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// CreateUpload implements Catalog.
func (c *MemoryCatalog) CreateUpload(_ context.Context, u Upload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.state.uploads[u.ID]; exists {
		return fmt.Errorf("upload %s: duplicate key", u.ID)
	}
	c.state.uploads[u.ID] = u
	return nil
}

// UpdateUpload implements Catalog. Only the status, checksum, row count,
// and errors change; terminal uploads are immutable.
func (c *MemoryCatalog) UpdateUpload(_ context.Context, u Upload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.state.uploads[u.ID]
	if !ok {
		return ErrUploadNotFound
	}
	if prev.Status.Terminal() {
		return fmt.Errorf("upload %s is %s and cannot change", u.ID, prev.Status)
	}
	prev.Status = u.Status
	prev.Checksum = u.Checksum
	prev.RowCount = u.RowCount
	prev.Errors = u.Errors
	c.state.uploads[u.ID] = prev
	return nil
}

// FindCompletedUpload implements Catalog.
func (c *MemoryCatalog) FindCompletedUpload(_ context.Context, supplierID, checksum string) (*Upload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.state.uploads {
		if u.SupplierID == supplierID && u.Checksum == checksum && u.Status == UploadCompleted {
			return &u, nil
		}
	}
	return nil, nil
}

// Upload returns a stored upload.
func (c *MemoryCatalog) Upload(id uuid.UUID) (Upload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.state.uploads[id]
	return u, ok
}

// Product returns the product stored under (supplierID, sku).
func (c *MemoryCatalog) Product(supplierID, sku string) (SupplierProduct, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.state.byKey[productKey{supplierID, sku}]
	if !ok {
		return SupplierProduct{}, false
	}
	return c.state.products[id], true
}

// Products returns every product, ordered by supplier then SKU.
func (c *MemoryCatalog) Products() []SupplierProduct {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SupplierProduct, 0, len(c.state.products))
	for _, p := range c.state.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SupplierID != out[j].SupplierID {
			return out[i].SupplierID < out[j].SupplierID
		}
		return out[i].SupplierSKU < out[j].SupplierSKU
	})
	return out
}

// Prices returns a product's price entries in insertion order.
func (c *MemoryCatalog) Prices(productID uuid.UUID) []PriceHistory {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PriceHistory(nil), c.state.prices[productID]...)
}

// InventoryFor returns the inventory item of a product.
func (c *MemoryCatalog) InventoryFor(productID uuid.UUID) (InventoryItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.state.invByProd[productID]
	if !ok {
		return InventoryItem{}, false
	}
	return c.state.inventory[id], true
}

// Movements returns all stock movements in append order.
func (c *MemoryCatalog) Movements() []StockMovement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StockMovement(nil), c.state.movements...)
}

// Reserve sets an item's reserved quantity. Reservations are owned by the
// order system, so this exists for seeding and tests.
func (c *MemoryCatalog) Reserve(itemID uuid.UUID, reserved int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.state.inventory[itemID]
	if !ok {
		return ErrInventoryNotFound
	}
	if reserved < 0 || reserved > item.QuantityOnHand {
		return &InvariantError{Code: CodeReservedExceedsStock, Current: item.QuantityOnHand, Requested: item.QuantityOnHand, Reserved: reserved}
	}
	item.QuantityReserved = reserved
	c.state.inventory[itemID] = item
	return nil
}

type memoryTx struct {
	s *memoryState
}

func (t *memoryTx) LockKey(context.Context, string, string) error { return nil }

func (t *memoryTx) LockSupplierProduct(_ context.Context, supplierID, sku string) (*SupplierProduct, error) {
	id, ok := t.s.byKey[productKey{supplierID, sku}]
	if !ok {
		return nil, nil
	}
	p := t.s.products[id]
	p.Attributes = maps.Clone(p.Attributes)
	return &p, nil
}

func (t *memoryTx) InsertSupplierProduct(_ context.Context, p SupplierProduct) error {
	key := productKey{p.SupplierID, p.SupplierSKU}
	if _, exists := t.s.byKey[key]; exists {
		return fmt.Errorf("supplier_products (%s, %s): duplicate key violates unique constraint", p.SupplierID, p.SupplierSKU)
	}
	t.s.products[p.ID] = p
	t.s.byKey[key] = p.ID
	return nil
}

func (t *memoryTx) UpdateSupplierProduct(_ context.Context, p SupplierProduct) error {
	prev, ok := t.s.products[p.ID]
	if !ok || prev.SupplierID != p.SupplierID {
		return ErrProductNotFound
	}
	// Identity columns never change.
	p.SupplierSKU = prev.SupplierSKU
	p.CreatedAt = prev.CreatedAt
	t.s.products[p.ID] = p
	return nil
}

func (t *memoryTx) CurrentPrice(_ context.Context, productID uuid.UUID) (*PriceHistory, error) {
	for _, ph := range t.s.prices[productID] {
		if ph.IsCurrent {
			return &ph, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) ClosePrice(_ context.Context, priceID uuid.UUID, at time.Time) error {
	for pid, list := range t.s.prices {
		for i := range list {
			if list[i].ID == priceID {
				list[i].IsCurrent = false
				list[i].ValidTo = &at
				t.s.prices[pid] = list
				return nil
			}
		}
	}
	return fmt.Errorf("price %s not found", priceID)
}

func (t *memoryTx) InsertPrice(_ context.Context, p PriceHistory) error {
	if p.IsCurrent {
		for _, ph := range t.s.prices[p.SupplierProductID] {
			if ph.IsCurrent {
				return fmt.Errorf("price_history: duplicate key violates unique constraint on current price for %s", p.SupplierProductID)
			}
		}
	}
	t.s.prices[p.SupplierProductID] = append(t.s.prices[p.SupplierProductID], p)
	return nil
}

func (t *memoryTx) LockInventoryByProduct(_ context.Context, supplierID string, productID uuid.UUID) (*InventoryItem, error) {
	id, ok := t.s.invByProd[productID]
	if !ok {
		return nil, nil
	}
	item := t.s.inventory[id]
	return &item, nil
}

func (t *memoryTx) LockInventoryItem(_ context.Context, itemID uuid.UUID) (*InventoryItem, error) {
	item, ok := t.s.inventory[itemID]
	if !ok {
		return nil, ErrInventoryNotFound
	}
	return &item, nil
}

func (t *memoryTx) InsertInventoryItem(_ context.Context, item InventoryItem) error {
	if item.QuantityOnHand < 0 || item.QuantityReserved < 0 || item.QuantityReserved > item.QuantityOnHand {
		return fmt.Errorf("inventory_items: check constraint violated for %s", item.ID)
	}
	if _, exists := t.s.invByProd[item.SupplierProductID]; exists {
		return fmt.Errorf("inventory_items: duplicate key violates unique constraint for product %s", item.SupplierProductID)
	}
	t.s.inventory[item.ID] = item
	t.s.invByProd[item.SupplierProductID] = item.ID
	return nil
}

func (t *memoryTx) SetQuantityOnHand(_ context.Context, supplierID string, itemID uuid.UUID, onHand int64, at time.Time) error {
	item, ok := t.s.inventory[itemID]
	if !ok || item.SupplierID != supplierID {
		return ErrInventoryNotFound
	}
	if onHand < 0 || onHand < item.QuantityReserved {
		return fmt.Errorf("inventory_items: check constraint violated for %s", itemID)
	}
	item.QuantityOnHand = onHand
	item.UpdatedAt = at
	t.s.inventory[itemID] = item
	return nil
}

func (t *memoryTx) AppendMovement(_ context.Context, m StockMovement) error {
	t.s.movements = append(t.s.movements, m)
	return nil
}
