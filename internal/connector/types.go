package connector

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// flexString は文字列と数値のどちらで来ても文字列として受けるJSONフィールド。
// 4overのレスポンスはフィールドによって型が揺れるため防壁として使う。
type flexString string

// UnmarshalJSON はjson.Unmarshalerの実装。
func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	return fmt.Errorf("文字列または数値として解釈できません: %s", data)
}

// flexInt は文字列と数値のどちらで来ても整数として受けるJSONフィールド。
type flexInt int

// UnmarshalJSON はjson.Unmarshalerの実装。
func (f *flexInt) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = 0
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*f = 0
			return nil
		}
		parsed, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("整数として解釈できません: %q", s)
		}
		*f = flexInt(parsed)
		return nil
	}
	return fmt.Errorf("整数として解釈できません: %s", data)
}
