package requisition

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexID is an identifier that arrives as either a JSON string or a JSON
// number. Numbers keep their literal text, so 42 and "42" name the same
// request.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number, got %s", data)
	}
	*id = FlexID(n.String())
	return nil
}

// UnmarshalJSON accepts a numeric id as well as a string one.
func (pr *PurchaseRequest) UnmarshalJSON(data []byte) error {
	type plain PurchaseRequest
	aux := struct {
		*plain
		ID FlexID `json:"id"`
	}{plain: (*plain)(pr)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	pr.ID = string(aux.ID)
	return nil
}
