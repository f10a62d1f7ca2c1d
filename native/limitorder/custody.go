package limitorder

import (
	"fmt"
	"math/big"
)

// custody abstracts the asset-specific escrow mechanics behind three
// capabilities: credit moves the escrowed amount from the sender into
// order-owned custody at open time, payout releases value from custody, and
// closeAndReclaim drains whatever custody still holds (the storage deposit)
// to the designated receiver so nothing leaks when the order is destroyed.
type custody interface {
	credit(o *Order, from [20]byte) error
	payout(o *Order, to [20]byte, amount *big.Int) error
	closeAndReclaim(o *Order, receiver [20]byte) error
}

func (e *Engine) custodyFor(o *Order) custody {
	if o.Native() {
		return nativeCustody{e: e}
	}
	return tokenCustody{e: e}
}

// nativeCustody keeps the escrowed value as native balance attributed to the
// custody address derived from the order ID.
type nativeCustody struct {
	e *Engine
}

func (c nativeCustody) credit(o *Order, from [20]byte) error {
	return c.e.transferNative(from, CustodyAddress(o.ID), o.AmountIn)
}

func (c nativeCustody) payout(o *Order, to [20]byte, amount *big.Int) error {
	return c.e.transferNative(CustodyAddress(o.ID), to, amount)
}

func (c nativeCustody) closeAndReclaim(o *Order, receiver [20]byte) error {
	return c.e.drainNative(CustodyAddress(o.ID), receiver)
}

// tokenCustody keeps the escrowed tokens in a balance record owned by the
// custody address; the storage deposit still rides on the custody address's
// native balance.
type tokenCustody struct {
	e *Engine
}

func (c tokenCustody) credit(o *Order, from [20]byte) error {
	return c.e.transferTokenBalance(from, CustodyAddress(o.ID), o.FromToken, o.AmountIn)
}

func (c tokenCustody) payout(o *Order, to [20]byte, amount *big.Int) error {
	return c.e.transferTokenBalance(CustodyAddress(o.ID), to, o.FromToken, amount)
}

func (c tokenCustody) closeAndReclaim(o *Order, receiver [20]byte) error {
	vault := CustodyAddress(o.ID)
	balance, ok, err := c.e.state.TokenBalanceGet(vault, o.FromToken)
	if err != nil {
		return err
	}
	if ok {
		if balance.Sign() != 0 {
			return fmt.Errorf("limitorder: custody account for order %x not drained", o.ID)
		}
		if err := c.e.state.TokenBalanceDelete(vault, o.FromToken); err != nil {
			return err
		}
	}
	return c.e.drainNative(vault, receiver)
}
