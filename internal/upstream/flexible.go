package upstream

import (
	"encoding/json"
	"strconv"
	"strings"
)

// FlexString decodes a JSON string or number into a string. Provider
// APIs are inconsistent about which they send for ids, rates and
// status fields.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// FlexInt decodes a JSON number or numeric string into an int.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}

	// Some providers send integral values as floats ("100.0").
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = FlexInt(int(v))
	return nil
}
