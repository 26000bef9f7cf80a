package shopify

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

type currencyFormat struct {
	symbol   string
	suffix   bool // символ после суммы
	fraction int
}

var currencies = map[string]currencyFormat{
	"USD": {symbol: "$", fraction: 2},
	"CAD": {symbol: "CA$", fraction: 2},
	"AUD": {symbol: "A$", fraction: 2},
	"GBP": {symbol: "£", fraction: 2},
	"EUR": {symbol: "€", suffix: true, fraction: 2},
	"RUB": {symbol: "₽", suffix: true, fraction: 2},
	"JPY": {symbol: "¥", fraction: 0},
	"KRW": {symbol: "₩", fraction: 0},
}

// ParseMoney разбирает десятичную сумму Storefront API
func ParseMoney(amount string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(amount), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid money amount %q: %w", amount, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid money amount %q", amount)
	}
	return v, nil
}

// FormatPrice форматирует сумму с группировкой разрядов по правилам locale.
// Для неизвестной валюты вместо символа ставится ее код
func FormatPrice(amount, currencyCode, locale string) string {
	v, err := ParseMoney(amount)
	if err != nil {
		return amount
	}

	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}

	code := strings.ToUpper(currencyCode)
	format, ok := currencies[code]
	if !ok {
		format = currencyFormat{symbol: code, suffix: true, fraction: 2}
	}

	p := message.NewPrinter(tag)
	digits := p.Sprintf("%v", number.Decimal(v,
		number.MinFractionDigits(format.fraction),
		number.MaxFractionDigits(format.fraction)))

	if format.suffix {
		return digits + " " + format.symbol
	}
	return format.symbol + digits
}

// DiscountPercent скидка в процентах относительно compareAt. 0, если скидки нет
func DiscountPercent(price, compareAt string) int {
	p, err := ParseMoney(price)
	if err != nil {
		return 0
	}
	c, err := ParseMoney(compareAt)
	if err != nil || c <= 0 || c <= p {
		return 0
	}
	return int(math.Round((c - p) / c * 100))
}
