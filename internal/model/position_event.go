package model

// Position manager event names.
const (
	EventIncreaseLiquidity = "IncreaseLiquidity"
	EventDecreaseLiquidity = "DecreaseLiquidity"
	EventCollect           = "Collect"
	EventTransfer          = "Transfer"
)

// PositionEvent is a decoded position-manager log touching one position.
// Amounts are decimal strings; fields that do not apply to Event are empty.
type PositionEvent struct {
	ChainID     uint64 `json:"chain_id"`
	PositionID  uint64 `json:"position_id"`
	Event       string `json:"event"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Timestamp   uint64 `json:"timestamp"`
	Liquidity   string `json:"liquidity,omitempty"`
	Amount0     string `json:"amount0,omitempty"`
	Amount1     string `json:"amount1,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
}
