package ddbstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/acksell/ddbentity/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Badger keys preserve DynamoDB key order for S, N and B keys.
//
//	table: [table] 0x00 [pk] 0x00 [sk]
//	gsi:   [table] $gsi: [index] 0x00 [gsi pk] 0x00 [gsi sk] 0x00 [pk] 0x00 [sk]
//
// GSI keys carry the table key so items sharing index keys do not collide.

const (
	keySeparator byte = 0x00
	gsiMarker         = "$gsi:"
)

const (
	keyTypeString byte = 'S'
	keyTypeNumber byte = 'N'
	keyTypeBinary byte = 'B'
)

var errMissingKey = errors.New("item does not carry the index keys")

// keyspace encodes the keys of the table or of one of its GSIs.
type keyspace struct {
	prefix []byte
	keys   table.PrimaryKeyDefinition
	// table is set for GSIs and encodes the suffix identifying the item.
	table *keyspace
}

func tableKeyspace(def table.TableDefinition) *keyspace {
	prefix := append([]byte(def.Name), keySeparator)
	return &keyspace{prefix: prefix, keys: def.KeyDefinitions}
}

func gsiKeyspace(tbl *keyspace, tableName string, gsi table.GSIDefinition) *keyspace {
	var buf bytes.Buffer
	buf.WriteString(tableName)
	buf.WriteString(gsiMarker)
	buf.WriteString(gsi.Name)
	buf.WriteByte(keySeparator)
	return &keyspace{prefix: buf.Bytes(), keys: gsi.KeyDefinitions, table: tbl}
}

// encode returns the badger key of item. Items without the partition or sort
// key of a GSI are not indexed and return errMissingKey.
func (k *keyspace) encode(item map[string]types.AttributeValue) ([]byte, error) {
	pk, err := k.keys.ExtractPrimaryKey(item)
	if err != nil {
		if k.table != nil && !hasKeys(k.keys, item) {
			return nil, errMissingKey
		}
		return nil, err
	}
	buf := bytes.NewBuffer(append([]byte(nil), k.prefix...))
	if err := writeKey(buf, pk); err != nil {
		return nil, err
	}
	if k.table != nil {
		tpk, err := k.table.keys.ExtractPrimaryKey(item)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(keySeparator)
		if err := writeKey(buf, tpk); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// partitionPrefix returns the prefix shared by every key in the partition.
func (k *keyspace) partitionPrefix(pk types.AttributeValue) ([]byte, error) {
	kind, err := table.KindOf(pk)
	if err != nil {
		return nil, err
	}
	if kind != k.keys.PartitionKey.Kind {
		return nil, fmt.Errorf("partition key %q must be of type %s", k.keys.PartitionKey.Name, k.keys.PartitionKey.Kind)
	}
	v, err := encodeKeyValue(keyValue(pk), kind)
	if err != nil {
		return nil, err
	}
	out := append(append([]byte(nil), k.prefix...), v...)
	return append(out, keySeparator), nil
}

// fields lists the attributes of a LastEvaluatedKey for this keyspace.
func (k *keyspace) fields() []string {
	out := k.keys.Fields()
	if k.table != nil {
		out = append(out, k.table.keys.Fields()...)
	}
	return out
}

func hasKeys(keys table.PrimaryKeyDefinition, item map[string]types.AttributeValue) bool {
	for _, f := range keys.Fields() {
		if _, ok := item[f]; !ok {
			return false
		}
	}
	return true
}

func writeKey(buf *bytes.Buffer, pk table.PrimaryKey) error {
	v, err := encodeKeyValue(pk.Values.PartitionKey, pk.Definition.PartitionKey.Kind)
	if err != nil {
		return fmt.Errorf("encode partition key: %w", err)
	}
	buf.Write(v)
	buf.WriteByte(keySeparator)
	if pk.Definition.HasSortKey() {
		v, err := encodeKeyValue(pk.Values.SortKey, pk.Definition.SortKey.Kind)
		if err != nil {
			return fmt.Errorf("encode sort key: %w", err)
		}
		buf.Write(v)
	}
	return nil
}

func keyValue(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberB:
		return v.Value
	}
	return nil
}

// encodeKeyValue encodes a key value with ordering based on its kind.
func encodeKeyValue(value any, kind table.KeyKind) ([]byte, error) {
	var buf bytes.Buffer
	switch kind {
	case table.KeyKindS:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string for S key, got %T", value)
		}
		buf.WriteByte(keyTypeString)
		buf.Write(escapeBytes([]byte(s)))
	case table.KeyKindN:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected number string for N key, got %T", value)
		}
		encoded, err := encodeNumber(s)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(keyTypeNumber)
		buf.Write(encoded)
	case table.KeyKindB:
		b, ok := value.([]byte)
		if !ok {
			return nil, fmt.Errorf("expected binary for B key, got %T", value)
		}
		buf.WriteByte(keyTypeBinary)
		buf.Write(escapeBytes(b))
	default:
		return nil, fmt.Errorf("unsupported key kind: %s", kind)
	}
	return buf.Bytes(), nil
}

// encodeNumber encodes a number so that byte order matches numeric order.
// Positive numbers get 0x80 and the float64 bits with the sign flipped,
// negative numbers get 0x7F and all bits inverted.
func encodeNumber(numStr string) ([]byte, error) {
	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return nil, fmt.Errorf("parse number %q: %w", numStr, err)
	}
	bits := math.Float64bits(f)
	buf := make([]byte, 9)
	if f >= 0 {
		buf[0] = 0x80
		bits ^= 1 << 63
	} else {
		buf[0] = 0x7F
		bits = ^bits
	}
	binary.BigEndian.PutUint64(buf[1:], bits)
	return buf, nil
}

// escapeBytes keeps 0x00 free for separators: 0x00 becomes 0x01 0x01 and
// 0x01 becomes 0x01 0x02.
func escapeBytes(b []byte) []byte {
	var buf bytes.Buffer
	for _, c := range b {
		switch c {
		case 0x00:
			buf.Write([]byte{0x01, 0x01})
		case 0x01:
			buf.Write([]byte{0x01, 0x02})
		default:
			buf.WriteByte(c)
		}
	}
	return buf.Bytes()
}

// serializeItem encodes an item for storage.
func serializeItem(item map[string]types.AttributeValue) ([]byte, error) {
	serializable := make(map[string]serializableAV, len(item))
	for k, v := range item {
		sav, err := toSerializable(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		serializable[k] = sav
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(serializable); err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	return buf.Bytes(), nil
}

func deserializeItem(data []byte) (map[string]types.AttributeValue, error) {
	var serializable map[string]serializableAV
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&serializable); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	out := make(map[string]types.AttributeValue, len(serializable))
	for k, v := range serializable {
		av, err := fromSerializable(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = av
	}
	return out, nil
}

// serializableAV is the gob form of an attribute value.
type serializableAV struct {
	Type  string
	Value any
}

func init() {
	gob.Register(map[string]serializableAV{})
	gob.Register([]serializableAV{})
	gob.Register([]string{})
	gob.Register([][]byte{})
}

func toSerializable(av types.AttributeValue) (serializableAV, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return serializableAV{Type: "S", Value: v.Value}, nil
	case *types.AttributeValueMemberN:
		return serializableAV{Type: "N", Value: v.Value}, nil
	case *types.AttributeValueMemberB:
		return serializableAV{Type: "B", Value: v.Value}, nil
	case *types.AttributeValueMemberBOOL:
		return serializableAV{Type: "BOOL", Value: v.Value}, nil
	case *types.AttributeValueMemberNULL:
		return serializableAV{Type: "NULL", Value: v.Value}, nil
	case *types.AttributeValueMemberSS:
		return serializableAV{Type: "SS", Value: v.Value}, nil
	case *types.AttributeValueMemberNS:
		return serializableAV{Type: "NS", Value: v.Value}, nil
	case *types.AttributeValueMemberBS:
		return serializableAV{Type: "BS", Value: v.Value}, nil
	case *types.AttributeValueMemberM:
		m := make(map[string]serializableAV, len(v.Value))
		for k, val := range v.Value {
			sav, err := toSerializable(val)
			if err != nil {
				return serializableAV{}, err
			}
			m[k] = sav
		}
		return serializableAV{Type: "M", Value: m}, nil
	case *types.AttributeValueMemberL:
		l := make([]serializableAV, len(v.Value))
		for i, val := range v.Value {
			sav, err := toSerializable(val)
			if err != nil {
				return serializableAV{}, err
			}
			l[i] = sav
		}
		return serializableAV{Type: "L", Value: l}, nil
	}
	return serializableAV{}, fmt.Errorf("unsupported attribute value type %T", av)
}

func fromSerializable(sav serializableAV) (types.AttributeValue, error) {
	switch sav.Type {
	case "S":
		return &types.AttributeValueMemberS{Value: sav.Value.(string)}, nil
	case "N":
		return &types.AttributeValueMemberN{Value: sav.Value.(string)}, nil
	case "B":
		return &types.AttributeValueMemberB{Value: sav.Value.([]byte)}, nil
	case "BOOL":
		return &types.AttributeValueMemberBOOL{Value: sav.Value.(bool)}, nil
	case "NULL":
		return &types.AttributeValueMemberNULL{Value: sav.Value.(bool)}, nil
	case "SS":
		return &types.AttributeValueMemberSS{Value: sav.Value.([]string)}, nil
	case "NS":
		return &types.AttributeValueMemberNS{Value: sav.Value.([]string)}, nil
	case "BS":
		return &types.AttributeValueMemberBS{Value: sav.Value.([][]byte)}, nil
	case "M":
		src := sav.Value.(map[string]serializableAV)
		m := make(map[string]types.AttributeValue, len(src))
		for k, v := range src {
			av, err := fromSerializable(v)
			if err != nil {
				return nil, err
			}
			m[k] = av
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case "L":
		src := sav.Value.([]serializableAV)
		l := make([]types.AttributeValue, len(src))
		for i, v := range src {
			av, err := fromSerializable(v)
			if err != nil {
				return nil, err
			}
			l[i] = av
		}
		return &types.AttributeValueMemberL{Value: l}, nil
	}
	return nil, fmt.Errorf("unsupported serialized type %q", sav.Type)
}
