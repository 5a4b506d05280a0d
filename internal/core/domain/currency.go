package domain

import (
	"github.com/shopspring/decimal"
)

// PaymentMethod is a label for how fiat is paid; details are free text.
type PaymentMethod string

const (
	PaymentMethodSwish PaymentMethod = "SWISH"
	PaymentMethodWU    PaymentMethod = "WU"
	PaymentMethodMG    PaymentMethod = "MG"
	PaymentMethodSEPA  PaymentMethod = "SEPA"
)

type paymentMethodInfo struct {
	displayName    string
	requiredDetail string
}

var paymentMethods = map[PaymentMethod]paymentMethodInfo{
	PaymentMethodSwish: {"Swish", "Mobile number and full name"},
	PaymentMethodWU:    {"Western Union", "Full name, city and country"},
	PaymentMethodMG:    {"MoneyGram", "Full name, city and country"},
	PaymentMethodSEPA:  {"SEPA Transfer", "Full name, IBAN and BIC"},
}

func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid ...
func (p PaymentMethod) IsValid() bool {
	_, ok := paymentMethods[p]
	return ok
}

// DisplayName ...
func (p PaymentMethod) DisplayName() string {
	return paymentMethods[p].displayName
}

// RequiredDetails describes the proof of payment details the payer needs.
func (p PaymentMethod) RequiredDetails() string {
	return paymentMethods[p].requiredDetail
}

// CurrencyCode is an ISO 4217 fiat currency accepted for trading.
type CurrencyCode string

const (
	CurrencySEK CurrencyCode = "SEK"
	CurrencyUSD CurrencyCode = "USD"
	CurrencyEUR CurrencyCode = "EUR"
	CurrencyJPY CurrencyCode = "JPY"
)

type currencyInfo struct {
	scale          int32
	minTradeAmount decimal.Decimal
	maxTradeAmount decimal.Decimal
	paymentMethods []PaymentMethod
}

var currencies = map[CurrencyCode]currencyInfo{
	CurrencySEK: {
		scale:          2,
		minTradeAmount: decimal.NewFromInt(100),
		maxTradeAmount: decimal.NewFromInt(10000),
		paymentMethods: []PaymentMethod{PaymentMethodSwish, PaymentMethodWU, PaymentMethodMG},
	},
	CurrencyUSD: {
		scale:          2,
		minTradeAmount: decimal.NewFromInt(10),
		maxTradeAmount: decimal.NewFromInt(1000),
		paymentMethods: []PaymentMethod{PaymentMethodWU, PaymentMethodMG},
	},
	CurrencyEUR: {
		scale:          2,
		minTradeAmount: decimal.NewFromInt(10),
		maxTradeAmount: decimal.NewFromInt(1000),
		paymentMethods: []PaymentMethod{PaymentMethodSEPA, PaymentMethodWU, PaymentMethodMG},
	},
	CurrencyJPY: {
		scale:          0,
		minTradeAmount: decimal.NewFromInt(1000),
		maxTradeAmount: decimal.NewFromInt(100000),
		paymentMethods: []PaymentMethod{PaymentMethodWU, PaymentMethodMG},
	},
}

func (c CurrencyCode) String() string {
	return string(c)
}

// IsValid ...
func (c CurrencyCode) IsValid() bool {
	_, ok := currencies[c]
	return ok
}

// Scale is the number of decimal places amounts of this currency are
// rounded to before being hashed or compared.
func (c CurrencyCode) Scale() int32 {
	return currencies[c].scale
}

// MinTradeAmount ...
func (c CurrencyCode) MinTradeAmount() decimal.Decimal {
	return currencies[c].minTradeAmount
}

// MaxTradeAmount ...
func (c CurrencyCode) MaxTradeAmount() decimal.Decimal {
	return currencies[c].maxTradeAmount
}

// PaymentMethods returns the ordered payment methods of the currency.
func (c CurrencyCode) PaymentMethods() []PaymentMethod {
	methods := currencies[c].paymentMethods
	out := make([]PaymentMethod, len(methods))
	copy(out, methods)
	return out
}

// Supports returns whether the currency can be paid with method.
func (c CurrencyCode) Supports(method PaymentMethod) bool {
	for _, m := range currencies[c].paymentMethods {
		if m == method {
			return true
		}
	}
	return false
}

// Round rounds amount half-up to the currency scale.
func (c CurrencyCode) Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(c.Scale())
}

// Currencies returns the supported currency codes.
func Currencies() []CurrencyCode {
	return []CurrencyCode{CurrencySEK, CurrencyUSD, CurrencyEUR, CurrencyJPY}
}

// ValidateTradeAmount checks that amount, once rounded, is within the
// currency trade bounds.
func (c CurrencyCode) ValidateTradeAmount(amount decimal.Decimal) error {
	if !c.IsValid() {
		return ErrUnknownCurrency
	}
	amount = c.Round(amount)
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.LessThan(c.MinTradeAmount()) || amount.GreaterThan(c.MaxTradeAmount()) {
		return ErrAmountOutOfRange
	}
	return nil
}
