package coinrpc

import "encoding/json"

type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type Response struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is an error reported by the daemon itself, as opposed to a transport failure.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

type decodedTransaction struct {
	Txid string  `json:"txid"`
	Vout []*Vout `json:"vout"`
}

type Vout struct {
	Value        json.Number  `json:"value"`
	N            int          `json:"n"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

type ScriptPubKey struct {
	Address   string   `json:"address"`
	Addresses []string `json:"addresses"`
	Type      string   `json:"type"`
}

// candidates returns every address the script pays to. Older daemons report
// an addresses array, newer ones a single address.
func (s ScriptPubKey) candidates() []string {
	if len(s.Addresses) > 0 {
		return s.Addresses
	}
	if s.Address != "" {
		return []string{s.Address}
	}
	return nil
}

type walletTransaction struct {
	Txid          string `json:"txid"`
	Confirmations int64  `json:"confirmations"`
}

type validateAddressResult struct {
	IsValid bool   `json:"isvalid"`
	Address string `json:"address"`
}
