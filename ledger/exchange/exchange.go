// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package exchange holds the coin exchange order types. An order offers the
// coin of the chain it is placed on for the coin of another chain, and is
// matched at placement against the open orders of the opposite direction.
package exchange

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/fee"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

const (
	OrderIssueName  = "CoinExchangeOrderIssue"
	OrderCancelName = "CoinExchangeOrderCancel"
)

var (
	KeyChildIssue   = txtype.Key{Type: 11, Subtype: 0}
	KeyChildCancel  = txtype.Key{Type: 11, Subtype: 1}
	KeyParentIssue  = txtype.Key{Type: -4, Subtype: 0}
	KeyParentCancel = txtype.Key{Type: -4, Subtype: 1}
)

// ChildOrderFee is the fee of a child chain order or cancellation
const ChildOrderFee = chain.ParentOneCoin / 100

func ParentTypes() []*txtype.Type {
	return []*txtype.Type{
		issueType(KeyParentIssue, fee.Schedule{}),
		cancelType(KeyParentCancel, fee.Schedule{}),
	}
}

func ChildTypes() []*txtype.Type {
	childFees := fee.NewSchedule(1, fee.Constant(ChildOrderFee))
	return []*txtype.Type{
		issueType(KeyChildIssue, childFees),
		cancelType(KeyChildCancel, childFees),
	}
}

// OrderIssue places an order selling quantity units of the chain coin at
// price units of the exchange chain coin per whole chain coin
type OrderIssue struct {
	appendix.Base
	key           txtype.Key
	chainID       int32
	exchangeChain int32
	quantity      int64
	price         int64
}

// NewOrderIssue builds an order attachment. A chainID of the parent chain
// selects the parent chain type.
func NewOrderIssue(chainID, exchangeChain int32, quantity, price int64) *OrderIssue {
	key := KeyChildIssue
	if chainID == chain.ParentChainID {
		key = KeyParentIssue
	}
	return &OrderIssue{
		Base:          appendix.NewBase(1),
		key:           key,
		chainID:       chainID,
		exchangeChain: exchangeChain,
		quantity:      quantity,
		price:         price,
	}
}

func (o *OrderIssue) Name() string           { return OrderIssueName }
func (o *OrderIssue) TypeKey() txtype.Key    { return o.key }
func (o *OrderIssue) ChainID() int32         { return o.chainID }
func (o *OrderIssue) ExchangeChainID() int32 { return o.exchangeChain }
func (o *OrderIssue) Quantity() int64        { return o.quantity }
func (o *OrderIssue) Price() int64           { return o.price }
func (o *OrderIssue) Size() int              { return 1 + 4 + 4 + 8 + 8 }
func (o *OrderIssue) FullSize() int          { return o.Size() }

func (o *OrderIssue) Write(w *appendix.Writer) {
	w.Int8(o.Version())
	w.Int32(o.chainID)
	w.Int32(o.exchangeChain)
	w.Int64(o.quantity)
	w.Int64(o.price)
}

func (o *OrderIssue) JSON() appendix.Object {
	return appendix.Object{
		appendix.VersionKey(OrderIssueName): o.Version(),
		"chain":                             o.chainID,
		"exchangeChain":                     o.exchangeChain,
		"quantityQNT":                       strconv.FormatInt(o.quantity, 10),
		"priceNQT":                          strconv.FormatInt(o.price, 10),
	}
}

func issueParser(key txtype.Key) func(r *appendix.Reader) (appendix.Attachment, error) {
	return func(r *appendix.Reader) (appendix.Attachment, error) {
		o := &OrderIssue{Base: appendix.NewBase(r.Int8()), key: key}
		o.chainID = r.Int32()
		o.exchangeChain = r.Int32()
		o.quantity = r.Int64()
		o.price = r.Int64()
		return o, r.Err()
	}
}

func issueJSONParser(key txtype.Key) func(o appendix.Object) (appendix.Attachment, error) {
	return func(obj appendix.Object) (appendix.Attachment, error) {
		v, err := obj.Version(OrderIssueName)
		if err != nil {
			return nil, err
		}
		o := &OrderIssue{Base: appendix.NewBase(v), key: key}
		chainID, err := obj.Int("chain")
		if err != nil {
			return nil, err
		}
		exchangeChain, err := obj.Int("exchangeChain")
		if err != nil {
			return nil, err
		}
		o.chainID = int32(chainID)             //nolint:gosec
		o.exchangeChain = int32(exchangeChain) //nolint:gosec
		if o.quantity, err = obj.Int("quantityQNT"); err != nil {
			return nil, err
		}
		if o.price, err = obj.Int("priceNQT"); err != nil {
			return nil, err
		}
		return o, nil
	}
}

// orderChains resolves the two chains of an order
func orderChains(o *OrderIssue, env state.Env) (*chain.Chain, *chain.Chain, error) {
	c, err := env.Chains().Chain(o.chainID)
	if err != nil {
		return nil, nil, common.NewNotValid("%w", err)
	}
	x, err := env.Chains().Chain(o.exchangeChain)
	if err != nil {
		return nil, nil, common.NewNotValid("%w", err)
	}
	return c, x, nil
}

func issue(tx txtype.Tx) (*OrderIssue, error) {
	o, ok := tx.Attachment().(*OrderIssue)
	if !ok {
		return nil, common.NewNotValid("unexpected attachment %T", tx.Attachment())
	}
	return o, nil
}

func issueType(key txtype.Key, fees fee.Schedule) *txtype.Type {
	return &txtype.Type{
		Key:                 key,
		Name:                OrderIssueName,
		Phasable:            true,
		Fees:                fees,
		ParseAttachment:     issueParser(key),
		ParseAttachmentJSON: issueJSONParser(key),
		ValidateAttachment: func(tx txtype.Tx, env state.Env) error {
			o, err := issue(tx)
			if err != nil {
				return err
			}
			c, x, err := orderChains(o, env)
			if err != nil {
				return err
			}
			switch {
			case c.ID != tx.ChainID():
				return common.NewNotValid("order for %s placed on chain %d", c, tx.ChainID())
			case c.ID == x.ID:
				return common.NewNotValid("order exchanges %s for itself", c)
			case tx.Amount() != 0:
				return common.NewNotValid("exchange order with amount %d", tx.Amount())
			case o.quantity <= 0 || o.quantity > c.MaxBalance():
				return common.NewNotValid("invalid order quantity %d", o.quantity)
			case o.price <= 0 || o.price > x.MaxBalance():
				return common.NewNotValid("invalid order price %d", o.price)
			}
			_, err = env.ExchangeOrders().Order(tx.ID())
			switch {
			case err == nil:
				return common.NewNotCurrentlyValid("duplicate order id %s", common.FormatID(tx.ID()))
			case !errors.Is(err, state.ErrNotFound):
				return err
			}
			return nil
		},
		ApplyAttachmentUnconfirmed: func(tx txtype.Tx, env state.Env) (bool, error) {
			o, err := issue(tx)
			if err != nil {
				return false, err
			}
			c, _, err := orderChains(o, env)
			if err != nil {
				return false, err
			}
			balances := env.Balances(c)
			bal, err := balances.Balance(tx.SenderID())
			if err != nil {
				return false, err
			}
			if bal.Unconfirmed < o.quantity {
				return false, nil
			}
			return true, balances.AddToUnconfirmed(tx.SenderID(), -o.quantity, tx.ID())
		},
		UndoAttachmentUnconfirmed: func(tx txtype.Tx, env state.Env) error {
			o, err := issue(tx)
			if err != nil {
				return err
			}
			c, _, err := orderChains(o, env)
			if err != nil {
				return err
			}
			return env.Balances(c).AddToUnconfirmed(tx.SenderID(), o.quantity, tx.ID())
		},
		ApplyAttachment: func(tx txtype.Tx, env state.Env) error {
			o, err := issue(tx)
			if err != nil {
				return err
			}
			c, x, err := orderChains(o, env)
			if err != nil {
				return err
			}
			if err := env.Balances(c).AddToBalance(tx.SenderID(), -o.quantity, tx.ID()); err != nil {
				return err
			}
			remaining, err := match(tx, env, o, c, x)
			if err != nil || remaining == 0 {
				return err
			}
			return env.ExchangeOrders().AddOrder(state.ExchangeOrder{
				ID:              tx.ID(),
				FullHash:        tx.FullHash(),
				ChainID:         c.ID,
				ExchangeChainID: x.ID,
				Account:         tx.SenderID(),
				Quantity:        remaining,
				Price:           o.price,
				Height:          env.Blockchain().Height(),
			})
		},
	}
}

// crosses reports whether an order at price p on chain c meets a resting
// order at price q on chain x
func crosses(p, q int64, c, x *chain.Chain) bool {
	product := decimal.NewFromInt(p).Mul(decimal.NewFromInt(q))
	limit := decimal.NewFromInt(c.OneCoin()).Mul(decimal.NewFromInt(x.OneCoin()))
	return product.LessThanOrEqual(limit)
}

// match fills the incoming order against the opposite offers at their own
// prices, best price first, and returns the unfilled quantity
func match(tx txtype.Tx, env state.Env, o *OrderIssue, c, x *chain.Chain) (int64, error) {
	offers, err := env.ExchangeOrders().Offers(x.ID, c.ID)
	if err != nil {
		return 0, err
	}
	remaining := o.quantity
	for _, y := range offers {
		if remaining == 0 || !crosses(o.price, y.Price, c, x) {
			break
		}
		// sold is in c units, bought in x units
		sold, err := common.MulDivFloor(y.Quantity, y.Price, x.OneCoin())
		if err != nil {
			return 0, err
		}
		bought := y.Quantity
		if remaining < sold {
			sold = remaining
			if bought, err = common.MulDivFloor(remaining, x.OneCoin(), y.Price); err != nil {
				return 0, err
			}
		}
		if sold == 0 || bought == 0 {
			break
		}
		if err := env.Balances(x).AddToBoth(tx.SenderID(), bought, tx.ID()); err != nil {
			return 0, err
		}
		if err := env.Balances(c).AddToBoth(y.Account, sold, tx.ID()); err != nil {
			return 0, err
		}
		if err := env.ExchangeOrders().SetQuantity(y.ID, y.Quantity-bought); err != nil {
			return 0, err
		}
		remaining -= sold
	}
	return remaining, nil
}

// OrderCancel withdraws an open order and returns its unfilled quantity
type OrderCancel struct {
	appendix.Base
	key       txtype.Key
	orderHash []byte
}

func NewOrderCancel(chainID int32, orderHash []byte) *OrderCancel {
	key := KeyChildCancel
	if chainID == chain.ParentChainID {
		key = KeyParentCancel
	}
	return &OrderCancel{Base: appendix.NewBase(1), key: key, orderHash: orderHash}
}

func (o *OrderCancel) Name() string        { return OrderCancelName }
func (o *OrderCancel) TypeKey() txtype.Key { return o.key }
func (o *OrderCancel) OrderHash() []byte   { return o.orderHash }
func (o *OrderCancel) OrderID() uint64     { return common.FullHashToID(o.orderHash) }
func (o *OrderCancel) Size() int           { return 1 + common.HashSize }
func (o *OrderCancel) FullSize() int       { return o.Size() }

func (o *OrderCancel) Write(w *appendix.Writer) {
	w.Int8(o.Version())
	w.Fixed(o.orderHash, common.HashSize)
}

func (o *OrderCancel) JSON() appendix.Object {
	return appendix.Object{
		appendix.VersionKey(OrderCancelName): o.Version(),
		"orderHash":                          hex.EncodeToString(o.orderHash),
	}
}

func cancelParser(key txtype.Key) func(r *appendix.Reader) (appendix.Attachment, error) {
	return func(r *appendix.Reader) (appendix.Attachment, error) {
		o := &OrderCancel{Base: appendix.NewBase(r.Int8()), key: key}
		o.orderHash = r.Bytes(common.HashSize)
		return o, r.Err()
	}
}

func cancelJSONParser(key txtype.Key) func(o appendix.Object) (appendix.Attachment, error) {
	return func(obj appendix.Object) (appendix.Attachment, error) {
		v, err := obj.Version(OrderCancelName)
		if err != nil {
			return nil, err
		}
		o := &OrderCancel{Base: appendix.NewBase(v), key: key}
		if o.orderHash, err = obj.Hex("orderHash"); err != nil {
			return nil, err
		}
		if len(o.orderHash) != common.HashSize {
			return nil, common.NewNotValid("order hash of %d bytes", len(o.orderHash))
		}
		return o, nil
	}
}

func cancel(tx txtype.Tx) (*OrderCancel, error) {
	o, ok := tx.Attachment().(*OrderCancel)
	if !ok {
		return nil, common.NewNotValid("unexpected attachment %T", tx.Attachment())
	}
	return o, nil
}

func cancelType(key txtype.Key, fees fee.Schedule) *txtype.Type {
	return &txtype.Type{
		Key:                 key,
		Name:                OrderCancelName,
		Phasable:            true,
		Fees:                fees,
		ParseAttachment:     cancelParser(key),
		ParseAttachmentJSON: cancelJSONParser(key),
		ValidateAttachment: func(tx txtype.Tx, env state.Env) error {
			c, err := cancel(tx)
			if err != nil {
				return err
			}
			if tx.Amount() != 0 {
				return common.NewNotValid("order cancellation with amount %d", tx.Amount())
			}
			order, err := env.ExchangeOrders().Order(c.OrderID())
			if errors.Is(err, state.ErrNotFound) {
				return common.NewNotCurrentlyValid("order %s is not open", common.FormatID(c.OrderID()))
			}
			if err != nil {
				return err
			}
			switch {
			case !bytes.Equal(order.FullHash, c.orderHash):
				return common.NewNotValid("order hash does not match order %s", common.FormatID(order.ID))
			case order.Account != tx.SenderID():
				return common.NewNotValid("order %s belongs to another account", common.FormatID(order.ID))
			case order.ChainID != tx.ChainID():
				return common.NewNotValid("order %s is on chain %d", common.FormatID(order.ID), order.ChainID)
			}
			return nil
		},
		ApplyAttachment: func(tx txtype.Tx, env state.Env) error {
			c, err := cancel(tx)
			if err != nil {
				return err
			}
			order, err := env.ExchangeOrders().Order(c.OrderID())
			if err != nil {
				return err
			}
			oc, err := env.Chains().Chain(order.ChainID)
			if err != nil {
				return err
			}
			if err := env.ExchangeOrders().SetQuantity(order.ID, 0); err != nil {
				return err
			}
			return env.Balances(oc).AddToBoth(order.Account, order.Quantity, tx.ID())
		},
		// an order is cancelled once
		DuplicateKey: func(tx txtype.Tx) (txtype.Key, string, int, bool) {
			c, ok := tx.Attachment().(*OrderCancel)
			if !ok {
				return key, "", 0, false
			}
			return key, common.FormatID(c.OrderID()), 0, true
		},
	}
}
