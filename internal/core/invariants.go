package core

// CheckStockChange validates moving an item's on-hand quantity to newOnHand.
// Both the bulk writer and the single-item adjuster call this before writing,
// so the two entry points reject exactly the same transitions.
func CheckStockChange(item InventoryItem, newOnHand int64) error {
	if newOnHand < 0 {
		return &InvariantError{
			Code:      CodeNegativeStock,
			Current:   item.QuantityOnHand,
			Requested: newOnHand,
			Reserved:  item.QuantityReserved,
		}
	}
	if newOnHand < item.QuantityReserved {
		return &InvariantError{
			Code:      CodeReservedExceedsStock,
			Current:   item.QuantityOnHand,
			Requested: newOnHand,
			Reserved:  item.QuantityReserved,
		}
	}
	return nil
}
