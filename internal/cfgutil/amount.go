// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcdeposit/deposit"
	"github.com/shopspring/decimal"
)

// AmountFlag embeds a btcutil.Amount and implements the flags.Marshaler and
// Unmarshaler interfaces so it can be used as a config struct field. Values
// are parsed as exact decimals, so "0.1" is exactly 10000000 satoshi.
type AmountFlag struct {
	btcutil.Amount
}

// NewAmountFlag creates an AmountFlag with a default btcutil.Amount.
func NewAmountFlag(defaultValue btcutil.Amount) *AmountFlag {
	return &AmountFlag{defaultValue}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (a *AmountFlag) MarshalFlag() (string, error) {
	return a.Amount.String(), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface. The value is in
// BTC and may carry a " BTC" suffix.
func (a *AmountFlag) UnmarshalFlag(value string) error {
	value = strings.TrimSpace(strings.TrimSuffix(value, " BTC"))

	btc, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("invalid amount %q", value)
	}

	amount, err := deposit.DecimalToAmount(btc)
	if err != nil {
		return err
	}

	a.Amount = amount
	return nil
}
