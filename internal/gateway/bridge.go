package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "mt5-trader/internal/errors"
	"mt5-trader/internal/logging"
	"mt5-trader/internal/models"
)

const defaultBridgeTimeout = 15 * time.Second

// BridgeConfig holds connection settings for the terminal bridge.
type BridgeConfig struct {
	// BaseURL is the bridge address, e.g. http://127.0.0.1:8787.
	BaseURL string
	// Token, when set, is sent as a bearer token on every request.
	Token string
	// Timeout bounds each HTTP round trip.
	Timeout time.Duration
}

// Bridge is the live Gateway. It talks to a local sidecar process that
// fronts the MetaTrader terminal over HTTP; the sidecar owns terminal
// login, symbol selection, and the native API surface, so this client
// only ever sees normalized JSON.
type Bridge struct {
	base   string
	token  string
	hc     *http.Client
	logger zerolog.Logger

	mu        sync.Mutex
	connected bool
	offset    time.Duration
}

// NewBridge creates a bridge client. Connect must succeed before any
// data or trading call.
func NewBridge(cfg BridgeConfig, logger zerolog.Logger) *Bridge {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = "http://127.0.0.1:8787"
	}
	base = strings.TrimRight(base, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultBridgeTimeout
	}

	return &Bridge{
		base:   base,
		token:  strings.TrimSpace(cfg.Token),
		hc:     &http.Client{Timeout: timeout},
		logger: logging.WithComponent(logger, "bridge"),
	}
}

// Name identifies the venue for logs.
func (b *Bridge) Name() string { return "mt5-bridge" }

// Connect verifies the bridge is reachable and measures the server
// clock offset.
func (b *Bridge) Connect(ctx context.Context) error {
	offset, err := b.fetchServerOffset(ctx)
	if err != nil {
		return apperrors.NewGatewayError("connect", "", "bridge unreachable", err)
	}

	b.mu.Lock()
	b.connected = true
	b.offset = offset
	b.mu.Unlock()

	b.logger.Info().
		Str("base_url", b.base).
		Str("server_offset", offset.String()).
		Msg("bridge connected")
	return nil
}

// Close marks the gateway disconnected. Safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	wasConnected := b.connected
	b.connected = false
	b.mu.Unlock()

	b.hc.CloseIdleConnections()
	if wasConnected {
		b.logger.Info().Msg("bridge closed")
	}
	return nil
}

func (b *Bridge) ensureConnected() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return apperrors.ErrNotConnected
	}
	return nil
}

// LastClosedCandle returns the most recent fully closed bar.
func (b *Bridge) LastClosedCandle(ctx context.Context, symbol string, timeframe models.Timeframe) (models.Candle, error) {
	if err := b.ensureConnected(); err != nil {
		return models.Candle{}, err
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", timeframe.String())

	var row barRow
	if err := b.getJSON(ctx, "/candles/last", q, &row); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return models.Candle{}, apperrors.NewGatewayError("candles/last", symbol, "no closed bar", apperrors.ErrNoCandle)
		}
		return models.Candle{}, apperrors.NewGatewayError("candles/last", symbol, "request failed", err)
	}

	candle, ok := row.candle()
	if !ok {
		return models.Candle{}, apperrors.NewGatewayError("candles/last", symbol, "malformed bar", apperrors.ErrNoCandle)
	}
	return candle, nil
}

// CandlesBetween returns closed bars with sinceExclusive < epoch <=
// untilInclusive, ascending.
func (b *Bridge) CandlesBetween(ctx context.Context, symbol string, timeframe models.Timeframe, sinceExclusive, untilInclusive int64) ([]models.Candle, error) {
	if err := b.ensureConnected(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", timeframe.String())
	q.Set("since", strconv.FormatInt(sinceExclusive, 10))
	q.Set("until", strconv.FormatInt(untilInclusive, 10))

	var rows []barRow
	if err := b.getJSON(ctx, "/candles/range", q, &rows); err != nil {
		return nil, apperrors.NewGatewayError("candles/range", symbol, "request failed", err)
	}

	// The interval is half open on the since side; drop whatever the
	// bridge returns outside it.
	return collectBars(rows, func(c models.Candle) bool {
		return c.Epoch > sinceExclusive && c.Epoch <= untilInclusive
	}), nil
}

// CandlesBack returns the last count closed bars ascending.
func (b *Bridge) CandlesBack(ctx context.Context, symbol string, timeframe models.Timeframe, count int) ([]models.Candle, error) {
	if err := b.ensureConnected(); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", timeframe.String())
	q.Set("count", strconv.Itoa(count))

	var rows []barRow
	if err := b.getJSON(ctx, "/candles/back", q, &rows); err != nil {
		return nil, apperrors.NewGatewayError("candles/back", symbol, "request failed", err)
	}
	return collectBars(rows, nil), nil
}

// SymbolMeta returns broker specs for the instrument.
func (b *Bridge) SymbolMeta(ctx context.Context, symbol string) (models.SymbolMeta, error) {
	if err := b.ensureConnected(); err != nil {
		return models.SymbolMeta{}, err
	}

	var out struct {
		Name        string      `json:"name"`
		Digits      int         `json:"digits"`
		TickSize    interface{} `json:"tick_size"`
		TickValue   interface{} `json:"tick_value"`
		LotStep     interface{} `json:"lot_step"`
		MinLot      interface{} `json:"min_lot"`
		StopsLevel  int         `json:"stops_level"`
		FreezeLevel int         `json:"freeze_level"`
	}
	if err := b.getJSON(ctx, "/symbol/"+url.PathEscape(symbol), nil, &out); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return models.SymbolMeta{}, apperrors.NewGatewayError("symbol", symbol, "unknown symbol", apperrors.ErrSymbolNotFound)
		}
		return models.SymbolMeta{}, apperrors.NewGatewayError("symbol", symbol, "request failed", err)
	}

	name := out.Name
	if name == "" {
		name = symbol
	}
	return models.SymbolMeta{
		Name:        name,
		Digits:      out.Digits,
		TickSize:    asFloat(out.TickSize),
		TickValue:   asFloat(out.TickValue),
		LotStep:     asFloat(out.LotStep),
		MinLot:      asFloat(out.MinLot),
		StopsLevel:  out.StopsLevel,
		FreezeLevel: out.FreezeLevel,
	}, nil
}

// Quote returns the current bid and ask.
func (b *Bridge) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	if err := b.ensureConnected(); err != nil {
		return models.Quote{}, err
	}

	var out struct {
		Bid   interface{} `json:"bid"`
		Ask   interface{} `json:"ask"`
		Epoch int64       `json:"epoch"`
	}
	if err := b.getJSON(ctx, "/quote/"+url.PathEscape(symbol), nil, &out); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return models.Quote{}, apperrors.NewGatewayError("quote", symbol, "no tick", apperrors.ErrNoQuote)
		}
		return models.Quote{}, apperrors.NewGatewayError("quote", symbol, "request failed", err)
	}

	bid, ask := asFloat(out.Bid), asFloat(out.Ask)
	if bid <= 0 || ask <= 0 {
		return models.Quote{}, apperrors.NewGatewayError("quote", symbol, "empty tick", apperrors.ErrNoQuote)
	}

	at := time.Now().UTC()
	if out.Epoch > 0 {
		at = time.Unix(out.Epoch, 0).UTC()
	}
	return models.Quote{Symbol: symbol, Bid: bid, Ask: ask, Time: at}, nil
}

// AccountBalance returns the account balance in deposit currency.
func (b *Bridge) AccountBalance(ctx context.Context) (float64, error) {
	if err := b.ensureConnected(); err != nil {
		return 0, err
	}

	var out struct {
		Balance interface{} `json:"balance"`
	}
	if err := b.getJSON(ctx, "/account/balance", nil, &out); err != nil {
		return 0, apperrors.NewGatewayError("account/balance", "", "request failed", err)
	}
	return asFloat(out.Balance), nil
}

// OpenPositions returns the open positions for the instrument.
func (b *Bridge) OpenPositions(ctx context.Context, symbol string) ([]models.Position, error) {
	if err := b.ensureConnected(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("symbol", symbol)

	var rows []struct {
		Ticket     int64       `json:"ticket"`
		Symbol     string      `json:"symbol"`
		Side       string      `json:"side"`
		Volume     interface{} `json:"volume"`
		EntryPrice interface{} `json:"entry_price"`
		StopLoss   interface{} `json:"stop_loss"`
		TakeProfit interface{} `json:"take_profit"`
		OpenTime   int64       `json:"open_time"`
	}
	if err := b.getJSON(ctx, "/positions", q, &rows); err != nil {
		return nil, apperrors.NewGatewayError("positions", symbol, "request failed", err)
	}

	positions := make([]models.Position, 0, len(rows))
	for _, row := range rows {
		if row.Ticket <= 0 {
			continue
		}
		sym := row.Symbol
		if sym == "" {
			sym = symbol
		}
		side := models.OrderSideBuy
		if strings.EqualFold(row.Side, string(models.OrderSideSell)) {
			side = models.OrderSideSell
		}
		positions = append(positions, models.Position{
			Ticket:     row.Ticket,
			Symbol:     sym,
			Side:       side,
			Lot:        asFloat(row.Volume),
			EntryPrice: asFloat(row.EntryPrice),
			StopLoss:   asFloat(row.StopLoss),
			TakeProfit: asFloat(row.TakeProfit),
			OpenTime:   time.Unix(row.OpenTime, 0).UTC(),
		})
	}
	return positions, nil
}

// PlaceMarketOrder submits a market order. The venue's verdict, fill or
// rejection, comes back inside the result; errors mean the request
// itself never got a verdict.
func (b *Bridge) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	if err := b.ensureConnected(); err != nil {
		return nil, err
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	body := struct {
		Symbol     string  `json:"symbol"`
		Side       string  `json:"side"`
		Volume     float64 `json:"volume"`
		StopLoss   float64 `json:"stop_loss"`
		TakeProfit float64 `json:"take_profit"`
		Deviation  int     `json:"deviation"`
		Magic      int64   `json:"magic"`
		Comment    string  `json:"comment,omitempty"`
		ClientID   string  `json:"client_order_id"`
	}{
		Symbol:     req.Symbol,
		Side:       string(req.Side),
		Volume:     req.Volume,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Deviation:  req.Deviation,
		Magic:      req.Magic,
		Comment:    req.Comment,
		ClientID:   clientID,
	}

	var out struct {
		Ticket   int64       `json:"ticket"`
		Status   string      `json:"status"`
		Entry    interface{} `json:"entry"`
		FillTime int64       `json:"fill_time"`
		Reason   string      `json:"reason"`
	}
	if err := b.postJSON(ctx, "/order/market", body, &out); err != nil {
		return nil, apperrors.NewGatewayError("order/market", req.Symbol, "submission failed", err)
	}

	fillTime := time.Now().UTC()
	if out.FillTime > 0 {
		fillTime = time.Unix(out.FillTime, 0).UTC()
	}
	result := &models.OrderResult{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Lot:        req.Volume,
		Entry:      asFloat(out.Entry),
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Ticket:     out.Ticket,
		FillTime:   fillTime,
		Status:     parseOrderStatus(out.Status),
		Reason:     out.Reason,
	}

	b.logger.Debug().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("client_order_id", clientID).
		Int64("ticket", result.Ticket).
		Str("status", string(result.Status)).
		Msg("market order answered")
	return result, nil
}

// ModifyStops rewrites the protective levels of an open position.
func (b *Bridge) ModifyStops(ctx context.Context, symbol string, ticket int64, stopLoss, takeProfit float64) error {
	if err := b.ensureConnected(); err != nil {
		return err
	}

	body := struct {
		Symbol     string  `json:"symbol"`
		Ticket     int64   `json:"ticket"`
		StopLoss   float64 `json:"stop_loss"`
		TakeProfit float64 `json:"take_profit"`
	}{symbol, ticket, stopLoss, takeProfit}

	var out struct {
		OK     bool   `json:"ok"`
		Reason string `json:"reason"`
	}
	if err := b.postJSON(ctx, "/position/modify", body, &out); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return apperrors.NewOrderError(ticket, symbol, "modify", "position gone", apperrors.ErrPositionNotFound)
		}
		return apperrors.NewGatewayError("position/modify", symbol, "request failed", err)
	}
	if !out.OK {
		return apperrors.NewOrderError(ticket, symbol, "modify", out.Reason, apperrors.ErrOrderRejected)
	}
	return nil
}

// ServerTimeOffset re-measures venue server time minus local UTC.
func (b *Bridge) ServerTimeOffset(ctx context.Context) (time.Duration, error) {
	if err := b.ensureConnected(); err != nil {
		return 0, err
	}

	offset, err := b.fetchServerOffset(ctx)
	if err != nil {
		return 0, apperrors.NewGatewayError("time", "", "request failed", err)
	}

	b.mu.Lock()
	b.offset = offset
	b.mu.Unlock()
	return offset, nil
}

func (b *Bridge) fetchServerOffset(ctx context.Context) (time.Duration, error) {
	var out struct {
		Epoch int64 `json:"epoch"`
	}
	before := time.Now()
	if err := b.getJSON(ctx, "/time", nil, &out); err != nil {
		return 0, err
	}
	// Local time is sampled at the request midpoint so transport
	// latency does not leak into the offset.
	mid := before.Add(time.Since(before) / 2)
	return time.Unix(out.Epoch, 0).Sub(mid).Round(time.Second), nil
}

// barRow is one bar as the bridge serializes it. Prices arrive as JSON
// numbers or formatted strings depending on the terminal build, so the
// numeric fields stay untyped until parsed.
type barRow struct {
	Epoch  int64       `json:"epoch"`
	Open   interface{} `json:"open"`
	High   interface{} `json:"high"`
	Low    interface{} `json:"low"`
	Close  interface{} `json:"close"`
	Volume interface{} `json:"volume"`
}

func (r barRow) candle() (models.Candle, bool) {
	if r.Epoch <= 0 {
		return models.Candle{}, false
	}
	return models.NewCandle(r.Epoch,
		asFloat(r.Open), asFloat(r.High), asFloat(r.Low), asFloat(r.Close),
		int64(asFloat(r.Volume))), true
}

// collectBars parses rows into candles, skipping malformed ones and any
// the keep filter refuses, and returns them ascending by epoch.
func collectBars(rows []barRow, keep func(models.Candle) bool) []models.Candle {
	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		candle, ok := row.candle()
		if !ok || (keep != nil && !keep(candle)) {
			continue
		}
		candles = append(candles, candle)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Epoch < candles[j].Epoch })
	return candles
}

// asFloat reads a numeric bridge field that may arrive as a JSON number
// or as a formatted string.
func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	default:
		return 0
	}
}

// parseOrderStatus maps the bridge's verdict onto OrderStatus; anything
// unrecognized counts as an error outcome.
func parseOrderStatus(s string) models.OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(models.OrderStatusFilled):
		return models.OrderStatusFilled
	case string(models.OrderStatusRejected):
		return models.OrderStatusRejected
	default:
		return models.OrderStatusError
	}
}

// statusError is a non-2xx bridge reply.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("bridge status %d", e.code)
	}
	return fmt.Sprintf("bridge status %d: %s", e.code, e.body)
}

// isStatus reports whether err carries a bridge reply with the given
// HTTP status code.
func isStatus(err error, code int) bool {
	var se *statusError
	return apperrors.As(err, &se) && se.code == code
}

func (b *Bridge) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	return b.roundTrip(ctx, http.MethodGet, path, query, nil, out)
}

func (b *Bridge) postJSON(ctx context.Context, path string, body, out interface{}) error {
	return b.roundTrip(ctx, http.MethodPost, path, nil, body, out)
}

func (b *Bridge) roundTrip(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := b.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		payload = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("User-Agent", "mt5-trader/bridge")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	start := time.Now()
	res, err := b.hc.Do(req)
	logging.LogGatewayCall(b.logger, method+" "+path, time.Since(start), err)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return &statusError{code: res.StatusCode, body: readErrorBody(res.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// readErrorBody extracts the bridge's error message, favoring the
// {"error": "..."} shape over raw text. Reads at most 4 KiB.
func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var shaped struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &shaped) == nil && shaped.Error != "" {
		return shaped.Error
	}
	return strings.TrimSpace(string(raw))
}
