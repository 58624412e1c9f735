package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// rawObject is a decoded JSON object whose values are decoded lazily. The
// backend spells some fields in more than one way, so lookups accept a list
// of candidate keys.
type rawObject map[string]json.RawMessage

func decodeObject(b []byte) (rawObject, error) {
	var obj rawObject
	if err := codec.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("expected JSON object")
	}
	return obj, nil
}

// pick returns the first present, non-null value among keys.
func (o rawObject) pick(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		v, ok := o[k]
		if !ok || isNull(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

func (o rawObject) getBool(keys ...string) (bool, bool, error) {
	raw, ok := o.pick(keys...)
	if !ok {
		return false, false, nil
	}
	var v bool
	if err := codec.Unmarshal(raw, &v); err != nil {
		return false, true, fmt.Errorf("field %s: %w", keys[0], err)
	}
	return v, true, nil
}

func (o rawObject) getInt(keys ...string) (int, bool, error) {
	raw, ok := o.pick(keys...)
	if !ok {
		return 0, false, nil
	}
	v, err := decodeInt(raw)
	if err != nil {
		return 0, true, fmt.Errorf("field %s: %w", keys[0], err)
	}
	return v, true, nil
}

func (o rawObject) getDecimal(keys ...string) (decimal.Decimal, bool, error) {
	raw, ok := o.pick(keys...)
	if !ok {
		return decimal.Zero, false, nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, true, fmt.Errorf("field %s: %w", keys[0], err)
	}
	return d, true, nil
}

func (o rawObject) getString(keys ...string) string {
	raw, ok := o.pick(keys...)
	if !ok {
		return ""
	}
	return decodeString(raw)
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func firstByte(raw json.RawMessage) byte {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return 0
	}
	return t[0]
}

// decodeInt accepts a number or a numeric string.
func decodeInt(raw json.RawMessage) (int, error) {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return 0, err
	}
	return int(d.IntPart()), nil
}

// decodeString accepts a string, or any other scalar rendered as its JSON
// text.
func decodeString(raw json.RawMessage) string {
	if firstByte(raw) == '"' {
		var s string
		if err := codec.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(bytes.TrimSpace(raw))
}

// unwrapData returns the payload inside a {data: {...}} envelope, or b
// itself when there is no envelope.
func unwrapData(b []byte) []byte {
	obj, err := decodeObject(b)
	if err != nil {
		return b
	}
	if d, ok := obj.pick("data"); ok && firstByte(d) == '{' {
		return d
	}
	return b
}

func decodeInitialization(body []byte) (*InitializationPayload, error) {
	obj, err := decodeObject(unwrapData(body))
	if err != nil {
		return nil, fmt.Errorf("decode initialization: %w", err)
	}

	p := &InitializationPayload{}
	hasFlag, flagSent, err := obj.getBool("hasFreeSpinRound", "hasFreespinRound")
	if err != nil {
		return nil, err
	}
	p.HasFreeSpinRound = hasFlag

	if raw, ok := obj.pick("freeSpinRound", "freespinRound", "freeSpinRounds"); ok {
		switch firstByte(raw) {
		case '[':
			if err := codec.Unmarshal(raw, &p.FreeRounds); err != nil {
				return nil, fmt.Errorf("field freeSpinRound: %w", err)
			}
		case '{':
			var e FreeRoundEntry
			if err := codec.Unmarshal(raw, &e); err != nil {
				return nil, fmt.Errorf("field freeSpinRound: %w", err)
			}
			p.FreeRounds = []FreeRoundEntry{e}
		default:
			n, err := decodeInt(raw)
			if err != nil {
				return nil, fmt.Errorf("field freeSpinRound: %w", err)
			}
			p.FreeSpinCount = &n
		}
	}

	// Older payloads omit the flag and only send the grant.
	if !flagSent {
		p.HasFreeSpinRound = (p.FreeSpinCount != nil && *p.FreeSpinCount > 0) ||
			len(p.FreeRounds) > 0
	}

	if p.HasUnresolvedSpin, _, err = obj.getBool("hasUnresolvedSpin"); err != nil {
		return nil, err
	}
	if p.UnresolvedSpinIndex, _, err = obj.getInt("unresolvedSpinIndex"); err != nil {
		return nil, err
	}
	if raw, ok := obj.pick("unresolvedSpin"); ok {
		p.UnresolvedSpin = append(json.RawMessage(nil), raw...)
	}

	p.Normalize()
	return p, nil
}

func decodeSpinRecord(body []byte) (*SpinRecord, error) {
	obj, err := decodeObject(unwrapData(body))
	if err != nil {
		return nil, fmt.Errorf("decode spin: %w", err)
	}

	r := &SpinRecord{PlayerID: obj.getString("playerId", "player_id")}
	if r.Bet, _, err = obj.getDecimal("bet"); err != nil {
		return nil, err
	}
	if r.Grid, err = decodeGrid(obj); err != nil {
		return nil, err
	}
	if r.Paylines, err = decodePaylines(obj); err != nil {
		return nil, err
	}
	if raw, ok := obj.pick("freeSpin", "freespin", "free_spin"); ok {
		block, err := decodeFreeSpinBlock(raw)
		if err != nil {
			return nil, err
		}
		r.FreeSpinBlock = block
	}
	return r, nil
}

func decodeGrid(obj rawObject) (Grid, error) {
	raw, ok := obj.pick("grid", "reels", "board")
	if !ok {
		return nil, nil
	}
	var g Grid
	if err := codec.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("field grid: %w", err)
	}
	return g, nil
}

// decodePaylines accepts a list of line objects or an object keyed by line.
func decodePaylines(obj rawObject) ([]PaylineWin, error) {
	raw, ok := obj.pick("paylines", "payLines", "lines", "winLines")
	if !ok {
		return nil, nil
	}

	switch firstByte(raw) {
	case '[':
		var items []json.RawMessage
		if err := codec.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("field paylines: %w", err)
		}
		lines := make([]PaylineWin, 0, len(items))
		for i, item := range items {
			l, err := decodePayline(item, "")
			if err != nil {
				return nil, fmt.Errorf("payline %d: %w", i, err)
			}
			lines = append(lines, l)
		}
		return lines, nil

	case '{':
		keyed, err := decodeObject(raw)
		if err != nil {
			return nil, fmt.Errorf("field paylines: %w", err)
		}
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]PaylineWin, 0, len(keys))
		for _, k := range keys {
			l, err := decodePayline(keyed[k], k)
			if err != nil {
				return nil, fmt.Errorf("payline %s: %w", k, err)
			}
			lines = append(lines, l)
		}
		return lines, nil
	}
	return nil, fmt.Errorf("field paylines: unexpected JSON %q", raw)
}

func decodePayline(raw json.RawMessage, key string) (PaylineWin, error) {
	var l PaylineWin
	obj, err := decodeObject(raw)
	if err != nil {
		return l, err
	}
	l.LineKey = obj.getString("lineKey", "line", "key")
	if l.LineKey == "" {
		l.LineKey = key
	}
	if l.Symbol, _, err = obj.getInt("symbol"); err != nil {
		return l, err
	}
	if l.Count, _, err = obj.getInt("count"); err != nil {
		return l, err
	}
	if l.Win, _, err = obj.getDecimal("win", "amount"); err != nil {
		return l, err
	}
	if mraw, ok := obj.pick("multipliers", "multiplier"); ok {
		if firstByte(mraw) == '[' {
			if err := codec.Unmarshal(mraw, &l.Multipliers); err != nil {
				return l, fmt.Errorf("field multipliers: %w", err)
			}
		} else {
			var m decimal.Decimal
			if err := m.UnmarshalJSON(mraw); err != nil {
				return l, fmt.Errorf("field multipliers: %w", err)
			}
			l.Multipliers = []decimal.Decimal{m}
		}
	}
	return l, nil
}

func decodeFreeSpinBlock(raw json.RawMessage) (*FreeSpinBlock, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("field freeSpin: %w", err)
	}

	b := &FreeSpinBlock{}
	if b.Count, _, err = obj.getInt("count"); err != nil {
		return nil, err
	}
	if b.TotalWin, _, err = obj.getDecimal("totalWin", "total_win"); err != nil {
		return nil, err
	}
	if iraw, ok := obj.pick("items"); ok {
		var items []json.RawMessage
		if err := codec.Unmarshal(iraw, &items); err != nil {
			return nil, fmt.Errorf("field items: %w", err)
		}
		b.Items = make([]FreeSpinItem, 0, len(items))
		for i, it := range items {
			item, err := decodeFreeSpinItem(it)
			if err != nil {
				return nil, fmt.Errorf("free spin item %d: %w", i, err)
			}
			b.Items = append(b.Items, item)
		}
	}
	return b, nil
}

func decodeFreeSpinItem(raw json.RawMessage) (FreeSpinItem, error) {
	var it FreeSpinItem
	obj, err := decodeObject(raw)
	if err != nil {
		return it, err
	}
	if it.Grid, err = decodeGrid(obj); err != nil {
		return it, err
	}
	if it.Paylines, err = decodePaylines(obj); err != nil {
		return it, err
	}
	if it.SpinsLeft, _, err = obj.getInt("spinsLeft", "spins_left"); err != nil {
		return it, err
	}
	if it.SubTotalWin, _, err = obj.getDecimal("subTotalWin", "subtotalWin"); err != nil {
		return it, err
	}
	return it, nil
}

// decodeBalance accepts {balance}, {data: {balance}} or a bare number.
func decodeBalance(body []byte) (decimal.Decimal, error) {
	inner := unwrapData(body)
	if firstByte(inner) != '{' {
		var d decimal.Decimal
		if err := d.UnmarshalJSON(bytes.TrimSpace(inner)); err != nil {
			return decimal.Zero, fmt.Errorf("decode balance: %w", err)
		}
		return d, nil
	}
	obj, err := decodeObject(inner)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode balance: %w", err)
	}
	d, ok, err := obj.getDecimal("balance", "amount")
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, fmt.Errorf("decode balance: no balance field")
	}
	return d, nil
}

func decodeToken(body []byte) (string, error) {
	obj, err := decodeObject(unwrapData(body))
	if err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	tok := obj.getString("token", "accessToken", "access_token")
	if tok == "" {
		return "", fmt.Errorf("decode token: no token field")
	}
	return tok, nil
}

func decodeHistory(body []byte) (*HistoryPage, error) {
	inner := body
	if firstByte(body) == '{' {
		obj, err := decodeObject(body)
		if err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		// {data: [...]} keeps the paging fields at the top level.
		if d, ok := obj.pick("data"); ok && firstByte(d) == '{' {
			inner = d
		}
	}

	page := &HistoryPage{}
	var items json.RawMessage
	if firstByte(inner) == '[' {
		items = inner
	} else {
		obj, err := decodeObject(inner)
		if err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		items, _ = obj.pick("items", "histories", "data", "rows")
		if page.Page, _, err = obj.getInt("page"); err != nil {
			return nil, err
		}
		if page.Limit, _, err = obj.getInt("limit"); err != nil {
			return nil, err
		}
		if page.Total, _, err = obj.getInt("total", "count"); err != nil {
			return nil, err
		}
	}
	if items == nil {
		return page, nil
	}

	var raws []json.RawMessage
	if err := codec.Unmarshal(items, &raws); err != nil {
		return nil, fmt.Errorf("decode history items: %w", err)
	}
	page.Items = make([]HistoryEntry, 0, len(raws))
	for i, raw := range raws {
		obj, err := decodeObject(raw)
		if err != nil {
			return nil, fmt.Errorf("history item %d: %w", i, err)
		}
		e := HistoryEntry{
			ID:        obj.getString("id", "_id"),
			RoundID:   obj.getString("roundId", "round_id"),
			CreatedAt: obj.getString("createdAt", "created_at"),
		}
		if e.Bet, _, err = obj.getDecimal("bet"); err != nil {
			return nil, err
		}
		if e.Win, _, err = obj.getDecimal("win", "totalWin"); err != nil {
			return nil, err
		}
		if e.IsFreeSpin, _, err = obj.getBool("isFreeSpin", "isFs"); err != nil {
			return nil, err
		}
		page.Items = append(page.Items, e)
	}
	return page, nil
}

// spinBody is the bet call payload.
type spinBody struct {
	Action        string      `json:"action"`
	Bet           json.Number `json:"bet"`
	Line          int         `json:"line"`
	IsBuyFs       bool        `json:"isBuyFs"`
	IsEnhancedBet bool        `json:"isEnhancedBet"`
	IsFs          bool        `json:"isFs"`
}

func newSpinBody(req SpinRequest) spinBody {
	return spinBody{
		Action:        "spin",
		Bet:           json.Number(req.Bet.String()),
		Line:          req.Line,
		IsBuyFs:       req.IsBuyFeature,
		IsEnhancedBet: req.IsEnhanced,
		IsFs:          req.IsInitFreeRound,
	}
}

// tokenBody is the token issuance payload.
type tokenBody struct {
	OperatorID string `json:"operatorId"`
	GameID     string `json:"gameId"`
	PlayerID   string `json:"playerId"`
	Currency   string `json:"currency"`
	Language   string `json:"language"`
}

// UnresolvedRecord decodes the spin the backend left unresolved. It returns
// nil when there is none.
func (p *InitializationPayload) UnresolvedRecord() (*SpinRecord, error) {
	if p == nil || !p.HasUnresolvedSpin || len(bytes.TrimSpace(p.UnresolvedSpin)) == 0 {
		return nil, nil
	}
	return decodeSpinRecord(p.UnresolvedSpin)
}
