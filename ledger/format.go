package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var pesoPrinter = message.NewPrinter(language.English)

// FormatPeso renders an amount the way it appears in ledger descriptions,
// e.g. ₱1,250.00. Digits come from the decimal itself, never a float.
func FormatPeso(d decimal.Decimal) string {
	fixed := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, cents, _ := strings.Cut(fixed, ".")
	return "₱" + sign + groupThousands(whole) + "." + cents
}

// groupThousands inserts separators into a string of digits.
func groupThousands(digits string) string {
	if n, err := strconv.ParseInt(digits, 10, 64); err == nil {
		return pesoPrinter.Sprintf("%d", n)
	}
	// Beyond int64.
	var b strings.Builder
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte(',')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func purchaseDescription(p Procurement) string {
	units := int64(0)
	for _, item := range p.Items {
		units += item.Quantity
	}
	return fmt.Sprintf("Purchase %s (%d units, %d lines)", p.Reference, units, len(p.Items))
}

func paymentDescription(p Procurement, ref string) string {
	return fmt.Sprintf("Payment %s for %s", ref, p.Reference)
}

func deletedSuffix(e Entry) string {
	if e.Type == EntryPayment {
		return fmt.Sprintf(" - DELETED (Original Payment: %s)", FormatPeso(e.OriginalAmount))
	}
	return fmt.Sprintf(" - DELETED (Original: %s)", FormatPeso(e.OriginalAmount))
}

func transferredSuffix(supplierName string) string {
	return " - TRANSFERRED TO " + supplierName
}
