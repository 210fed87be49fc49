package web

import (
	"net/http"

	"github.com/JonMunkholm/pricesync/internal/core"
	"github.com/JonMunkholm/pricesync/internal/logging"
)

type adjustmentRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

// handleAdjustStock applies a manual stock delta. Changes that would break
// the stock invariant are rejected with 409 and nothing is written.
func (s *Server) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	itemID, ok := uuidParam(r, "itemID")
	if !ok {
		s.badRequest(w, r, "invalid inventory item id")
		return
	}

	var body adjustmentRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.badRequest(w, r, "invalid request body: "+err.Error())
		return
	}

	res, err := s.service.AdjustStock(r.Context(), core.StockAdjustment{
		InventoryItemID: itemID,
		Delta:           body.Delta,
		Reason:          body.Reason,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	logging.WithFields(r.Context(),
		"inventory_item_id", itemID,
		"delta", body.Delta,
	).Info("stock adjusted", "before", res.QuantityBefore, "on_hand", res.QuantityOnHand)
	writeJSON(w, res)
}

// handlePriceHistory lists a product's prices, most recent first.
func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	productID, ok := uuidParam(r, "productID")
	if !ok {
		s.badRequest(w, r, "invalid product id")
		return
	}

	history, err := s.service.PriceHistory(r.Context(), productID, parseIntParam(r, "limit", 100))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if history == nil {
		history = []core.PriceHistory{}
	}
	writeJSON(w, map[string]any{
		"productId": productID,
		"prices":    history,
	})
}
