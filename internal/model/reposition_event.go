package model

// RepositionEvent is the record emitted after a successful reposition.
// Amounts are decimal strings.
type RepositionEvent struct {
	Vault         string `json:"vault"`
	OldPositionID uint64 `json:"old_position_id"`
	NewPositionID uint64 `json:"new_position_id"`
	TickLower     int32  `json:"tick_lower"`
	TickUpper     int32  `json:"tick_upper"`
	Liquidity     string `json:"liquidity"`
	StartValue    string `json:"start_value"`
	EndValue      string `json:"end_value"`
	Fees0         string `json:"fees0"`
	Fees1         string `json:"fees1"`
	Principal0    string `json:"principal0"`
	Principal1    string `json:"principal1"`
	Minted0       string `json:"minted0"`
	Minted1       string `json:"minted1"`
	SqrtPriceX96  string `json:"sqrt_price_x96"`
	Tick          int32  `json:"tick"`
	LossPPM       int64  `json:"loss_ppm"`
	Swapped       bool   `json:"swapped"`
	Timestamp     uint64 `json:"timestamp"`
}
