package ledger

import "fmt"

// priceFunc resolves the latest price for a symbol while revaluing holdings.
type priceFunc func(symbol string) (float64, error)

// applyBuy returns the holdings and cash after buying qty shares at price.
// The cost-basis average is recomputed as the quantity-weighted mean of the
// old basis and the new lot. The input holdings are not mutated.
func applyBuy(h Holdings, symbol string, qty int64, price, cash float64) (Holdings, float64, error) {
	if qty <= 0 {
		return nil, 0, fmt.Errorf("quantity must be > 0")
	}
	cost := float64(qty) * price
	if cash < cost {
		return nil, 0, ErrInsufficientFunds
	}
	next := h.clone()
	if pos, ok := next[symbol]; ok {
		newQty := pos.Quantity + qty
		newAvg := (float64(pos.Quantity)*pos.AveragePrice + float64(qty)*price) / float64(newQty)
		next[symbol] = Position{Quantity: newQty, AveragePrice: newAvg}
	} else {
		next[symbol] = Position{Quantity: qty, AveragePrice: price}
	}
	return next, cash - cost, nil
}

// applySell returns the holdings and cash after selling qty shares at price.
// Selling the whole position removes it; the average price of a partial
// remainder is unchanged. The input holdings are not mutated.
func applySell(h Holdings, symbol string, qty int64, price, cash float64) (Holdings, float64, error) {
	if qty <= 0 {
		return nil, 0, fmt.Errorf("quantity must be > 0")
	}
	pos, ok := h[symbol]
	if !ok || pos.Quantity < qty {
		return nil, 0, ErrInsufficientShares
	}
	next := h.clone()
	if pos.Quantity == qty {
		delete(next, symbol)
	} else {
		next[symbol] = Position{Quantity: pos.Quantity - qty, AveragePrice: pos.AveragePrice}
	}
	return next, cash + float64(qty)*price, nil
}

// marketValue prices every holding at its latest market price.
func marketValue(h Holdings, latest priceFunc) (float64, error) {
	var total float64
	for symbol, pos := range h {
		price, err := latest(symbol)
		if err != nil {
			return 0, err
		}
		total += float64(pos.Quantity) * price
	}
	return total, nil
}

func (h Holdings) clone() Holdings {
	next := make(Holdings, len(h))
	for k, v := range h {
		next[k] = v
	}
	return next
}
