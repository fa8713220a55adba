package binance

import (
	"context"
	"errors"

	"github.com/adshao/go-binance/v2/common"
	"github.com/tidwall/gjson"

	"marlin/internal/exchange"
)

// classifyError converts go-binance failures into the typed order errors the
// retry policy understands. Structured API errors are preferred; anything
// else is probed as a raw JSON error body before falling back to a generic
// transient failure.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return exchange.NewOrderError(exchange.CodeTimeout, err.Error())
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fromCode(apiErr.Code, apiErr.Message)
	}
	// Some transport paths surface the response body as plain text.
	if body := gjson.Parse(err.Error()); body.Get("code").Exists() {
		return fromCode(body.Get("code").Int(), body.Get("msg").String())
	}
	return exchange.NewOrderError(exchange.CodeUnavailable, err.Error())
}

func fromCode(code int64, msg string) error {
	switch code {
	case -1003:
		return exchange.NewOrderError(exchange.CodeRateLimited, msg)
	case -1007:
		return exchange.NewOrderError(exchange.CodeTimeout, msg)
	case -1000, -1001, -1008, -1016:
		return exchange.NewOrderError(exchange.CodeUnavailable, msg)
	case -1121:
		return exchange.NewOrderError(exchange.CodeInvalidSymbol, msg)
	case -2018, -2019:
		return exchange.NewOrderError(exchange.CodeInsufficientMargin, msg)
	default:
		return exchange.NewOrderError(exchange.CodeRejected, msg)
	}
}
