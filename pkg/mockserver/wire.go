package mockserver

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type envelope struct {
	Data interface{} `json:"data,omitempty"`

	Message string `json:"message,omitempty"`
}

type tokenRequest struct {
	OperatorID string `json:"operatorId"`
	GameID     string `json:"gameId"`
	PlayerID   string `json:"playerId"`
	Currency   string `json:"currency"`
	Language   string `json:"language"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type freeRoundEntry struct {
	Bet               decimal.Decimal `json:"bet"`
	TotalFreeSpin     int             `json:"totalFreeSpin"`
	UsedFreeSpin      int             `json:"usedFreeSpin"`
	RemainingFreeSpin int             `json:"remainingFreeSpin"`
}

type initResponse struct {
	HasFreeSpinRound  bool             `json:"hasFreeSpinRound"`
	FreeSpinRound     []freeRoundEntry `json:"freeSpinRound"`
	HasUnresolvedSpin bool             `json:"hasUnresolvedSpin"`
}

type balanceResponse struct {
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency,omitempty"`
}

type spinRequest struct {
	Action        string          `json:"action"`
	Bet           decimal.Decimal `json:"bet"`
	Line          int             `json:"line"`
	IsBuyFs       bool            `json:"isBuyFs"`
	IsEnhancedBet bool            `json:"isEnhancedBet"`
	IsFs          bool            `json:"isFs"`
}

type payline struct {
	LineKey string          `json:"lineKey"`
	Symbol  int             `json:"symbol"`
	Count   int             `json:"count"`
	Win     decimal.Decimal `json:"win"`
}

type freeSpinItem struct {
	Grid        [][]int         `json:"grid"`
	Paylines    []payline       `json:"paylines"`
	SpinsLeft   int             `json:"spinsLeft"`
	SubTotalWin decimal.Decimal `json:"subTotalWin"`
}

type freeSpinBlock struct {
	Count    int             `json:"count"`
	TotalWin decimal.Decimal `json:"totalWin"`
	Items    []freeSpinItem  `json:"items"`
}

type spinResponse struct {
	PlayerID string          `json:"playerId"`
	RoundID  string          `json:"roundId"`
	Bet      decimal.Decimal `json:"bet"`
	Grid     [][]int         `json:"grid"`
	Paylines []payline       `json:"paylines"`
	FreeSpin *freeSpinBlock  `json:"freeSpin,omitempty"`
	Balance  decimal.Decimal `json:"balance"`
}

type historyItem struct {
	ID         string          `json:"id"`
	RoundID    string          `json:"roundId"`
	Bet        decimal.Decimal `json:"bet"`
	Win        decimal.Decimal `json:"win"`
	IsFreeSpin bool            `json:"isFreeSpin"`
	CreatedAt  string          `json:"createdAt"`
}

type historyResponse struct {
	Items []historyItem `json:"items"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int           `json:"total"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Message: msg})
}
