package relay

import "fmt"

// routeErrorText maps the service's business error codes to readable
// reasons. Unknown codes fall back to the service message.
var routeErrorText = map[string]string{
	"AMOUNT_TOO_LOW":               "amount too low to route",
	"INSUFFICIENT_FUNDS":           "insufficient funds for the operation",
	"NO_SWAP_ROUTES_FOUND":         "no route found",
	"INSUFFICIENT_LIQUIDITY":       "insufficient liquidity",
	"CHAIN_DISABLED":               "chain temporarily disabled",
	"UNSUPPORTED_CHAIN":            "unsupported chain",
	"UNSUPPORTED_CURRENCY":         "unsupported currency",
	"SWAP_IMPACT_TOO_HIGH":         "price impact too high",
	"ROUTE_TEMPORARILY_RESTRICTED": "route temporarily restricted",
	"SANCTIONED_CURRENCY":          "currency is sanctioned",
	"SANCTIONED_WALLET_ADDRESS":    "wallet address is sanctioned",
}

// RouteError is a business rejection from the routing service. These
// are final for the requested route: retrying the same request cannot
// succeed, so callers skip the asset instead of failing the run.
type RouteError struct {
	Code    string
	Message string
	Status  int
}

func (e *RouteError) Error() string {
	if text, ok := routeErrorText[e.Code]; ok {
		return fmt.Sprintf("%s (%s)", text, e.Code)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("route rejected (%s)", e.Code)
}

// Reason is the short human form used in operation logs.
func (e *RouteError) Reason() string {
	if text, ok := routeErrorText[e.Code]; ok {
		return text
	}
	if e.Message != "" {
		return e.Message
	}
	return "route rejected"
}
