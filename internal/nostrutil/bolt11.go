package nostrutil

import (
	"regexp"
	"strconv"
	"strings"
)

var bolt11AmountRe = regexp.MustCompile(`^ln[a-z]*bc(\d+)([munp]?)$`)

// ParseBolt11Amount decodes the amount section of a bolt11 invoice's
// human-readable part into satoshis. The human-readable part ends at the
// rightmost '1' in the invoice (bech32 data can never contain '1', so that
// byte is always the separator, never an amount digit); the amount and its
// optional multiplier must be the literal suffix of that part. An amount
// with no multiplier is whole bitcoin. The amountless form ("lnbc1...")
// has no digits before the separator and reports not-found.
func ParseBolt11Amount(invoice string) (sats int64, ok bool) {
	sep := strings.LastIndexByte(invoice, '1')
	if sep < 0 {
		return 0, false
	}

	m := bolt11AmountRe.FindStringSubmatch(invoice[:sep])
	if m == nil {
		return 0, false
	}
	amount, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}

	switch m[2] {
	case "": // whole bitcoin: 1 BTC = 100,000,000 sats
		return amount * 100000000, true
	case "m": // milli-bitcoin: 1e-3 BTC = 100,000 sats
		return amount * 100000, true
	case "u": // micro-bitcoin: 1e-6 BTC = 100 sats
		return amount * 100, true
	case "n": // nano-bitcoin: 1e-9 BTC = 0.1 sats
		return amount / 10, true
	case "p": // pico-bitcoin: 1e-12 BTC = 0.0001 sats
		return amount / 10000, true
	default:
		return 0, false
	}
}
