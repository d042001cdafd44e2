package wire

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// AttributeValue carries one DynamoDB attribute value in its JSON wire form,
// a single-key object such as {"S":"x"} or {"M":{...}}.
type AttributeValue struct {
	Value types.AttributeValue
}

// Item is an item in wire form.
type Item map[string]AttributeValue

// FromItem wraps an SDK item for encoding.
func FromItem(item map[string]types.AttributeValue) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = AttributeValue{Value: v}
	}
	return out
}

// SDK unwraps a decoded item.
func (it Item) SDK() map[string]types.AttributeValue {
	if it == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(it))
	for k, v := range it {
		out[k] = v.Value
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (a AttributeValue) MarshalJSON() ([]byte, error) {
	var (
		key string
		val interface{}
	)
	switch v := a.Value.(type) {
	case *types.AttributeValueMemberS:
		key, val = "S", v.Value
	case *types.AttributeValueMemberN:
		key, val = "N", v.Value
	case *types.AttributeValueMemberB:
		key, val = "B", v.Value
	case *types.AttributeValueMemberBOOL:
		key, val = "BOOL", v.Value
	case *types.AttributeValueMemberNULL:
		key, val = "NULL", v.Value
	case *types.AttributeValueMemberSS:
		key, val = "SS", nonNil(v.Value)
	case *types.AttributeValueMemberNS:
		key, val = "NS", nonNil(v.Value)
	case *types.AttributeValueMemberBS:
		bs := v.Value
		if bs == nil {
			bs = [][]byte{}
		}
		key, val = "BS", bs
	case *types.AttributeValueMemberM:
		m := FromItem(v.Value)
		if m == nil {
			m = Item{}
		}
		key, val = "M", m
	case *types.AttributeValueMemberL:
		l := make([]AttributeValue, len(v.Value))
		for i, e := range v.Value {
			l[i] = AttributeValue{Value: e}
		}
		key, val = "L", l
	default:
		return nil, fmt.Errorf("unsupported attribute value %T", a.Value)
	}
	return json.Marshal(map[string]interface{}{key: val})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *AttributeValue) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("attribute value must have exactly one type, got %d", len(raw))
	}

	for key, body := range raw {
		switch key {
		case "S":
			var s string
			if err := json.Unmarshal(body, &s); err != nil {
				return err
			}
			a.Value = &types.AttributeValueMemberS{Value: s}
		case "N":
			var n string
			if err := json.Unmarshal(body, &n); err != nil {
				return err
			}
			a.Value = &types.AttributeValueMemberN{Value: n}
		case "B":
			var b []byte
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			a.Value = &types.AttributeValueMemberB{Value: b}
		case "BOOL":
			var b bool
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			a.Value = &types.AttributeValueMemberBOOL{Value: b}
		case "NULL":
			var b bool
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			a.Value = &types.AttributeValueMemberNULL{Value: b}
		case "SS":
			var ss []string
			if err := json.Unmarshal(body, &ss); err != nil {
				return err
			}
			a.Value = &types.AttributeValueMemberSS{Value: ss}
		case "NS":
			var ns []string
			if err := json.Unmarshal(body, &ns); err != nil {
				return err
			}
			a.Value = &types.AttributeValueMemberNS{Value: ns}
		case "BS":
			var bs [][]byte
			if err := json.Unmarshal(body, &bs); err != nil {
				return err
			}
			a.Value = &types.AttributeValueMemberBS{Value: bs}
		case "M":
			var m Item
			if err := json.Unmarshal(body, &m); err != nil {
				return err
			}
			sdk := m.SDK()
			if sdk == nil {
				sdk = map[string]types.AttributeValue{}
			}
			a.Value = &types.AttributeValueMemberM{Value: sdk}
		case "L":
			var l []AttributeValue
			if err := json.Unmarshal(body, &l); err != nil {
				return err
			}
			vals := make([]types.AttributeValue, len(l))
			for i, e := range l {
				vals[i] = e.Value
			}
			a.Value = &types.AttributeValueMemberL{Value: vals}
		default:
			return fmt.Errorf("unknown attribute value type %q", key)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
