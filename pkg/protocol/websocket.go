package protocol

import "encoding/json"

// Inbound is a client frame. Ref is echoed on the direct reply so clients can
// pair requests with responses.
type Inbound struct {
	Event string          `json:"event"`
	Ref   string          `json:"ref,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Outbound struct {
	Event string `json:"event"`
	Ref   string `json:"ref,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func (i Inbound) Decode(val any) error {
	if len(i.Data) == 0 {
		return json.Unmarshal([]byte("{}"), val)
	}
	return json.Unmarshal(i.Data, val)
}

func Encode(event, ref string, data any) ([]byte, error) {
	return json.Marshal(Outbound{Event: event, Ref: ref, Data: data})
}
