package binancegw

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradepulse/internal/domain"
	"tradepulse/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Gateway implements ports.BrokerGateway using the go-binance futures
// API. Binance reports one net position per symbol and has no position
// tickets, so the gateway derives one ticket per round trip from its
// lifecycle book and remembers the attribution tag and comment it
// submitted per symbol to reattach them to the positions and deals it
// lists.
type Gateway struct {
	client *futures.Client
	logger ports.Logger

	mu      sync.Mutex
	attrs   map[string]orderAttrs // symbol -> last submitted attribution
	symbols map[string]struct{}   // symbols seen trading, for deal queries
	book    *lifecycleBook
}

type orderAttrs struct {
	tag     int64
	comment string
}

// Config holds configuration specific to the Binance gateway adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance gateway adapter.
func New(cfg Config) (*Gateway, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance gateway")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty, only public endpoints will work")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance gateway configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance gateway configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Gateway{
		client:  client,
		logger:  cfg.Logger,
		attrs:   make(map[string]orderAttrs),
		symbols: make(map[string]struct{}),
		book:    newLifecycleBook(),
	}, nil
}

// SeedSymbols registers symbols to include in deal-history queries.
// Called at startup with the symbols found in the trade record store, so
// the catch-up window covers trades closed while the process was down.
func (g *Gateway) SeedSymbols(symbols ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range symbols {
		if s != "" {
			g.symbols[s] = struct{}{}
		}
	}
}

// handleError translates common Binance API errors into standardized
// ports errors.
func (g *Gateway) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003:
			mappedErr = ports.ErrRateLimited
		case -1021:
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015:
			mappedErr = ports.ErrAuthenticationFailed
		case -2019, -3005, -3041:
			mappedErr = ports.ErrInsufficientFunds
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1116, -1117, -1121, -4003, -4014:
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		g.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	g.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// translateRejection maps the exchange's order rejections onto broker
// return codes the executor understands. Only submission rejections go
// through here; transport failures stay with handleError.
func translateRejection(apiErr *common.APIError) *ports.OrderRejectedError {
	code := 0
	switch apiErr.Code {
	case -1115: // invalid timeInForce
		code = ports.CodeUnsupportedFillMode
	case -2019, -3005: // insufficient margin / balance
		code = ports.CodeNoMoney
	case -4014, -4024: // price outside permissible range
		code = ports.CodeInvalidStops
	}
	return &ports.OrderRejectedError{Code: code, Reason: apiErr.Message}
}

// ListOpenPositions returns every non-zero position, with the tag and
// comment this process last submitted for the symbol reattached.
func (g *Gateway) ListOpenPositions(ctx context.Context) ([]domain.Position, error) {
	op := "ListOpenPositions"
	risks, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, g.handleError(ctx, err, op)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	open := make(map[string]struct{}, len(risks))
	positions := make([]domain.Position, 0, len(risks))
	for _, pr := range risks {
		amt, _ := strconv.ParseFloat(pr.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(pr.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(pr.MarkPrice, 64)
		unrealized, _ := strconv.ParseFloat(pr.UnRealizedProfit, 64)

		side := domain.Buy
		volume := amt
		if amt < 0 {
			side = domain.Sell
			volume = -amt
		}

		open[pr.Symbol] = struct{}{}
		g.symbols[pr.Symbol] = struct{}{}

		pos := domain.Position{
			Ticket:       g.book.openTicket(pr.Symbol, now),
			Symbol:       pr.Symbol,
			Side:         side,
			Volume:       volume,
			EntryPrice:   entry,
			CurrentPrice: mark,
			Profit:       unrealized,
		}
		if a, ok := g.attrs[pr.Symbol]; ok {
			pos.Tag = a.tag
			pos.Comment = a.comment
		}
		positions = append(positions, pos)
	}
	g.book.settleAbsent(open)
	return positions, nil
}

// ListDeals returns the account's fill records in [from, to]. The
// exchange scopes trade history to a symbol, so the gateway queries
// every symbol it has seen trading and merges the results. Only fills
// with realized profit represent closed round trips; opening fills come
// back with zero profit and are skipped by the caller.
func (g *Gateway) ListDeals(ctx context.Context, from, to time.Time) ([]domain.Deal, error) {
	op := "ListDeals"

	g.mu.Lock()
	symbols := make([]string, 0, len(g.symbols))
	for s := range g.symbols {
		symbols = append(symbols, s)
	}
	g.mu.Unlock()

	var deals []domain.Deal
	for _, symbol := range symbols {
		trades, err := g.client.NewListAccountTradeService().
			Symbol(symbol).
			StartTime(from.UnixMilli()).
			EndTime(to.UnixMilli()).
			Do(ctx)
		if err != nil {
			return nil, g.handleError(ctx, err, op)
		}

		// Fills arrive in ascending time order, which the lifecycle book
		// relies on to segment round trips.
		g.mu.Lock()
		for _, t := range trades {
			price, _ := strconv.ParseFloat(t.Price, 64)
			qty, _ := strconv.ParseFloat(t.Quantity, 64)
			pnl, _ := strconv.ParseFloat(t.RealizedPnl, 64)
			commission, _ := strconv.ParseFloat(t.Commission, 64)

			fillTime := time.UnixMilli(t.Time)
			d := domain.Deal{
				Ticket:     t.ID,
				PositionID: g.book.dealTicket(t.Symbol, fillTime, pnl != 0),
				Symbol:     t.Symbol,
				Side:       domain.OrderSide(t.Side),
				Volume:     qty,
				Price:      price,
				Profit:     pnl,
				Commission: -commission,
				Time:       fillTime,
			}
			if a, ok := g.attrs[t.Symbol]; ok {
				d.Tag = a.tag
				d.Comment = a.comment
			}
			deals = append(deals, d)
		}
		g.mu.Unlock()
	}
	return deals, nil
}

// SubmitOrder places the request as a market order (RETURN fill) or a
// priced IOC/FOK order, then attaches the protective stop and target as
// close-position orders the way the exchange expects them.
func (g *Gateway) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	op := "SubmitOrder"

	svc := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Quantity(formatFloat(req.Volume)).
		NewClientOrderID(clientOrderID(req.Comment))

	switch req.FillMode {
	case domain.FillIOC:
		svc = svc.Type(futures.OrderTypeLimit).
			Price(formatFloat(req.Price)).
			TimeInForce(futures.TimeInForceTypeIOC)
	case domain.FillFOK:
		svc = svc.Type(futures.OrderTypeLimit).
			Price(formatFloat(req.Price)).
			TimeInForce(futures.TimeInForceTypeFOK)
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && isRejectionCode(apiErr.Code) {
			g.logger.Warn(ctx, op+": order rejected by exchange", map[string]interface{}{
				"symbol": req.Symbol,
				"code":   apiErr.Code,
				"reason": apiErr.Message,
			})
			return nil, translateRejection(apiErr)
		}
		return nil, g.handleError(ctx, err, op)
	}

	g.mu.Lock()
	g.attrs[req.Symbol] = orderAttrs{tag: req.Tag, comment: req.Comment}
	g.symbols[req.Symbol] = struct{}{}
	g.mu.Unlock()

	fillPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	if fillPrice == 0 {
		fillPrice = req.Price
	}
	filledQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	if filledQty == 0 {
		filledQty = req.Volume
	}

	result := &domain.OrderResult{
		Ticket:    order.OrderID,
		Symbol:    order.Symbol,
		Side:      req.Side,
		Volume:    filledQty,
		FillPrice: fillPrice,
		Time:      time.UnixMilli(order.UpdateTime),
	}
	g.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":    req.Symbol,
		"side":      req.Side,
		"volume":    result.Volume,
		"orderID":   result.Ticket,
		"fillPrice": result.FillPrice,
	})

	g.placeProtection(ctx, req)
	return result, nil
}

// placeProtection attaches stop-loss and take-profit close orders. The
// entry is already filled, so failures here are logged and the position
// stays open unprotected rather than failing the submission.
func (g *Gateway) placeProtection(ctx context.Context, req domain.OrderRequest) {
	closeSide := futures.SideType(req.Side.Opposite())

	if req.StopLoss > 0 {
		_, err := g.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(closeSide).
			Type(futures.OrderTypeStopMarket).
			StopPrice(formatFloat(req.StopLoss)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			g.logger.Warn(ctx, "SubmitOrder: failed to place stop loss", map[string]interface{}{
				"symbol":   req.Symbol,
				"stopLoss": req.StopLoss,
				"error":    err.Error(),
			})
		}
	}
	if req.TakeProfit > 0 {
		_, err := g.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(closeSide).
			Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(formatFloat(req.TakeProfit)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			g.logger.Warn(ctx, "SubmitOrder: failed to place take profit", map[string]interface{}{
				"symbol":     req.Symbol,
				"takeProfit": req.TakeProfit,
				"error":      err.Error(),
			})
		}
	}
}

// AccountEquity returns the account's total margin balance.
func (g *Gateway) AccountEquity(ctx context.Context) (float64, error) {
	op := "AccountEquity"
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, g.handleError(ctx, err, op)
	}
	equity, err := strconv.ParseFloat(account.TotalMarginBalance, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse margin balance '%s': %w", account.TotalMarginBalance, err)
		return 0, g.handleError(ctx, parseErr, op)
	}
	return equity, nil
}

// SymbolInfo extracts the instrument constraints from the exchange info
// filters. Linear contracts value one quote unit per price unit.
func (g *Gateway) SymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error) {
	op := "SymbolInfo"
	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, g.handleError(ctx, err, op)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		out := &domain.SymbolInfo{Symbol: symbol, ValuePerUnit: 1}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "LOT_SIZE":
				out.MinVolume = parseFilterFloat(f, "minQty")
				out.MaxVolume = parseFilterFloat(f, "maxQty")
				out.VolumeStep = parseFilterFloat(f, "stepSize")
			case "PRICE_FILTER":
				out.PipSize = parseFilterFloat(f, "tickSize")
			}
		}
		return out, nil
	}
	return nil, g.handleError(ctx, fmt.Errorf("symbol %s not found in exchange info: %w", symbol, ports.ErrNotFound), op)
}

// Candles returns the most recent OHLCV bars for the symbol.
func (g *Gateway) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	op := "Candles"
	klines, err := g.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, g.handleError(ctx, err, op)
	}

	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		open, err := strconv.ParseFloat(k.Open, 64)
		if err != nil {
			return nil, g.handleError(ctx, fmt.Errorf("parsing open price '%s': %w", k.Open, err), op)
		}
		high, err := strconv.ParseFloat(k.High, 64)
		if err != nil {
			return nil, g.handleError(ctx, fmt.Errorf("parsing high price '%s': %w", k.High, err), op)
		}
		low, err := strconv.ParseFloat(k.Low, 64)
		if err != nil {
			return nil, g.handleError(ctx, fmt.Errorf("parsing low price '%s': %w", k.Low, err), op)
		}
		cls, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			return nil, g.handleError(ctx, fmt.Errorf("parsing close price '%s': %w", k.Close, err), op)
		}
		vol, err := strconv.ParseFloat(k.Volume, 64)
		if err != nil {
			return nil, g.handleError(ctx, fmt.Errorf("parsing volume '%s': %w", k.Volume, err), op)
		}
		candles = append(candles, domain.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime),
			CloseTime: time.UnixMilli(k.CloseTime),
			Symbol:    symbol,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     cls,
			Volume:    vol,
		})
	}
	return candles, nil
}

// Ping checks connectivity to the exchange API.
func (g *Gateway) Ping(ctx context.Context) error {
	op := "Ping"
	if err := g.client.NewPingService().Do(ctx); err != nil {
		return g.handleError(ctx, err, op)
	}
	return nil
}

// isRejectionCode reports whether the API error is a declared order
// rejection rather than a transport or authentication failure.
func isRejectionCode(code int64) bool {
	switch code {
	case -1115, -2010, -2019, -2022, -3005, -4014, -4024:
		return true
	}
	return false
}

// clientOrderID fits the comment into Binance's client order id rules
// (at most 36 chars from a restricted alphabet).
func clientOrderID(comment string) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, comment)
	if len(id) > 36 {
		id = id[:36]
	}
	return id
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFilterFloat(filter map[string]interface{}, key string) float64 {
	s, ok := filter[key].(string)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
