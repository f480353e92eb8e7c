package model

// TokenMeta captures ERC20 metadata. A token whose metadata could not be
// read keeps its address and zero decimals, so raw amounts still render.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

// Label returns the symbol, or the address when the token has none.
func (m TokenMeta) Label() string {
	if m.Symbol != "" {
		return m.Symbol
	}
	return m.Address
}
