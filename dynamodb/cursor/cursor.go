// Package cursor converts physical key fields to and from opaque pagination
// tokens that are safe to place in a URL query parameter.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const version = 1

// DecodeError is returned for tokens that are malformed or were issued by an
// incompatible version.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid cursor: %s: %v", e.Reason, e.Err)
	}
	return "invalid cursor: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

type token struct {
	V int         `json:"v"`
	K [][3]string `json:"k"`
}

// Encode serializes key fields into a token. Fields are written in sorted
// order so equal keys always produce equal tokens. An empty key yields "".
func Encode(keys map[string]types.AttributeValue) (string, error) {
	if len(keys) == 0 {
		return "", nil
	}
	fields := make([]string, 0, len(keys))
	for f := range keys {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	t := token{V: version, K: make([][3]string, 0, len(fields))}
	for _, f := range fields {
		switch v := keys[f].(type) {
		case *types.AttributeValueMemberS:
			t.K = append(t.K, [3]string{f, "S", v.Value})
		case *types.AttributeValueMemberN:
			t.K = append(t.K, [3]string{f, "N", v.Value})
		case *types.AttributeValueMemberB:
			t.K = append(t.K, [3]string{f, "B", base64.StdEncoding.EncodeToString(v.Value)})
		default:
			return "", fmt.Errorf("key field %q has unsupported type %T", f, v)
		}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a token produced by Encode. An empty token yields a nil key.
func Decode(s string) (map[string]types.AttributeValue, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Reason: "not base64url", Err: err}
	}
	var t token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, &DecodeError{Reason: "malformed payload", Err: err}
	}
	if t.V != version {
		return nil, &DecodeError{Reason: fmt.Sprintf("unsupported version %d", t.V)}
	}
	if len(t.K) == 0 {
		return nil, &DecodeError{Reason: "no key fields"}
	}
	out := make(map[string]types.AttributeValue, len(t.K))
	for _, kv := range t.K {
		field, typ, value := kv[0], kv[1], kv[2]
		if field == "" {
			return nil, &DecodeError{Reason: "empty field name"}
		}
		if _, dup := out[field]; dup {
			return nil, &DecodeError{Reason: fmt.Sprintf("field %q appears twice", field)}
		}
		switch typ {
		case "S":
			out[field] = &types.AttributeValueMemberS{Value: value}
		case "N":
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				return nil, &DecodeError{Reason: fmt.Sprintf("field %q is not a number", field)}
			}
			out[field] = &types.AttributeValueMemberN{Value: value}
		case "B":
			b, err := base64.StdEncoding.DecodeString(value)
			if err != nil {
				return nil, &DecodeError{Reason: fmt.Sprintf("field %q is not base64", field), Err: err}
			}
			out[field] = &types.AttributeValueMemberB{Value: b}
		default:
			return nil, &DecodeError{Reason: fmt.Sprintf("field %q has unknown type %q", field, typ)}
		}
	}
	return out, nil
}
