package attr

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"testing"
	"testing/quick"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModel_RejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string]Attribute
		want  string
	}{
		{
			name:  "no attributes",
			attrs: map[string]Attribute{},
			want:  "at least one attribute",
		},
		{
			name:  "missing kind",
			attrs: map[string]Attribute{"a": {}},
			want:  "has no kind",
		},
		{
			name:  "enum without values",
			attrs: map[string]Attribute{"status": {Kind: KindEnum}},
			want:  "has no values",
		},
		{
			name: "duplicate field",
			attrs: map[string]Attribute{
				"a": {Kind: KindString, Field: "x"},
				"b": {Kind: KindString, Field: "x"},
			},
			want: `attributes "a" and "b" share the field name "x"`,
		},
		{
			name:  "padding on boolean",
			attrs: map[string]Attribute{"flag": {Kind: KindBoolean, Padding: &Padding{Length: 3, Char: "0"}}},
			want:  "only allowed for string and number",
		},
		{
			name:  "padding with two characters",
			attrs: map[string]Attribute{"code": {Kind: KindString, Padding: &Padding{Length: 3, Char: "ab"}}},
			want:  "single pad character",
		},
		{
			name:  "watch self",
			attrs: map[string]Attribute{"a": {Kind: KindString, Watch: []string{"a"}}},
			want:  "cannot watch itself",
		},
		{
			name:  "watch unknown",
			attrs: map[string]Attribute{"a": {Kind: KindString, Watch: []string{"nope"}}},
			want:  "unknown attribute",
		},
		{
			name: "watch a watcher",
			attrs: map[string]Attribute{
				"a": {Kind: KindString},
				"b": {Kind: KindString, Watch: []string{"a"}},
				"c": {Kind: KindString, Watch: []string{"b"}},
			},
			want: "itself a watcher",
		},
		{
			name: "nested invalid",
			attrs: map[string]Attribute{
				"m": {Kind: KindMap, Properties: map[string]Attribute{
					"inner": {Kind: KindList, Items: &Attribute{Kind: KindEnum}},
				}},
			},
			want: `enum attribute "m.inner[*]" has no values`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModel(tt.attrs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestResolvePut_DefaultsAndRequired(t *testing.T) {
	m, err := NewModel(map[string]Attribute{
		"id":     {Kind: KindString, Required: true},
		"status": {Kind: KindEnum, EnumValues: []string{"open", "closed"}, Default: "open"},
		"count":  {Kind: KindNumber, DefaultFunc: func() any { return 7 }},
		"note":   {Kind: KindString},
	})
	require.NoError(t, err)

	got, err := m.Resolve(map[string]any{"id": "x", "ignored": true}, ModePut)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "x", "status": "open", "count": 7}, got)

	_, err = m.Resolve(map[string]any{"status": "open"}, ModePut)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "id", verr.Path)

	_, err = m.Resolve(map[string]any{"id": "x", "status": "pending"}, ModePut)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "status", verr.Path)
}

func TestResolvePut_KindChecks(t *testing.T) {
	m, err := NewModel(map[string]Attribute{
		"name":  {Kind: KindString, Pattern: regexp.MustCompile(`^[a-z]+$`)},
		"age":   {Kind: KindNumber},
		"admin": {Kind: KindBoolean},
		"tags":  {Kind: KindSet},
		"even": {Kind: KindNumber, Validate: func(v any) error {
			f, _ := ToFloat(v)
			if int(f)%2 != 0 {
				return errors.New("must be even")
			}
			return nil
		}},
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		item map[string]any
		path string
	}{
		{"pattern", map[string]any{"name": "Abc"}, "name"},
		{"string kind", map[string]any{"name": 1}, "name"},
		{"number kind", map[string]any{"age": "12"}, "age"},
		{"boolean kind", map[string]any{"admin": "yes"}, "admin"},
		{"set member", map[string]any{"tags": []any{"a", 2}}, "tags"},
		{"custom validate", map[string]any{"even": 3}, "even"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Resolve(tt.item, ModePut)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.path, verr.Path)
		})
	}

	_, err = m.Resolve(map[string]any{"even": 3}, ModePut)
	assert.Contains(t, err.Error(), "must be even")
}

func TestResolvePut_NestedPathInError(t *testing.T) {
	m, err := NewModel(map[string]Attribute{
		"map": {Kind: KindMap, Properties: map[string]Attribute{
			"nestedList": {Kind: KindList, Items: &Attribute{Kind: KindString}},
		}},
	})
	require.NoError(t, err)

	_, err = m.Resolve(map[string]any{"map": map[string]any{"nestedList": []any{"ok", 12}}}, ModePut)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "map.nestedList[*]", verr.Path)
}

func TestResolvePut_MapBranchRequirement(t *testing.T) {
	t.Run("materialized from defaults", func(t *testing.T) {
		m, err := NewModel(map[string]Attribute{
			"settings": {Kind: KindMap, Properties: map[string]Attribute{
				"theme": {Kind: KindString, Required: true, Default: "dark"},
				"extra": {Kind: KindString},
			}},
		})
		require.NoError(t, err)
		got, err := m.Resolve(map[string]any{}, ModePut)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"settings": map[string]any{"theme": "dark"}}, got)
	})

	t.Run("deepest missing path", func(t *testing.T) {
		m, err := NewModel(map[string]Attribute{
			"outer": {Kind: KindMap, Properties: map[string]Attribute{
				"middle": {Kind: KindMap, Properties: map[string]Attribute{
					"leaf":  {Kind: KindString, Required: true},
					"other": {Kind: KindString, Default: "x"},
				}},
			}},
		})
		require.NoError(t, err)
		_, err = m.Resolve(map[string]any{}, ModePut)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "outer.middle.leaf", verr.Path)
	})

	t.Run("optional branch omitted", func(t *testing.T) {
		m, err := NewModel(map[string]Attribute{
			"meta": {Kind: KindMap, Properties: map[string]Attribute{
				"a": {Kind: KindString, Default: "x"},
			}},
		})
		require.NoError(t, err)
		got, err := m.Resolve(map[string]any{}, ModePut)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestResolve_Watchers(t *testing.T) {
	m, err := NewModel(map[string]Attribute{
		"first": {Kind: KindString},
		"last":  {Kind: KindString},
		"full": {Kind: KindString, Watch: []string{"first", "last"}, Set: func(_ any, item map[string]any) any {
			f, _ := item["first"].(string)
			l, _ := item["last"].(string)
			return strings.TrimSpace(f + " " + l)
		}},
		"touched": {Kind: KindString, Watch: []string{WatchAll}, Set: func(_ any, _ map[string]any) any {
			return "yes"
		}},
	})
	require.NoError(t, err)

	put, err := m.Resolve(map[string]any{"first": "Ada", "last": "Lovelace"}, ModePut)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", put["full"])
	assert.Equal(t, "yes", put["touched"])

	upd, err := m.Resolve(map[string]any{"last": "Byron"}, ModeUpdate)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"last": "Byron", "full": "Byron", "touched": "yes"}, upd)

	none, err := m.Resolve(map[string]any{}, ModeUpdate)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestResolveRead_HiddenAndGet(t *testing.T) {
	m, err := NewModel(map[string]Attribute{
		"name":   {Kind: KindString, Get: func(v any, _ map[string]any) any { return strings.ToUpper(v.(string)) }},
		"secret": {Kind: KindString, Hidden: true, Get: func(any, map[string]any) any { panic("get on hidden attribute") }},
		"profile": {Kind: KindMap, Properties: map[string]Attribute{
			"token": {Kind: KindString, Hidden: true},
			"bio":   {Kind: KindString},
		}},
	})
	require.NoError(t, err)

	got, err := m.Resolve(map[string]any{
		"name":    "ada",
		"secret":  "s3cr3t",
		"profile": map[string]any{"token": "t", "bio": "hi"},
	}, ModeRead)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ADA", "profile": map[string]any{"bio": "hi"}}, got)
	_, leaked := got["secret"]
	assert.False(t, leaked)
}

func TestModel_ItemRoundTrip(t *testing.T) {
	m, err := NewModel(map[string]Attribute{
		"id":     {Kind: KindString, Field: "i"},
		"amount": {Kind: KindNumber},
		"ok":     {Kind: KindBoolean},
		"tags":   {Kind: KindSet},
		"scores": {Kind: KindSet, SetOf: KindNumber},
		"items":  {Kind: KindList, Items: &Attribute{Kind: KindNumber}},
		"meta": {Kind: KindMap, Properties: map[string]Attribute{
			"color": {Kind: KindString, Field: "c"},
		}},
		"blob": {Kind: KindCustom},
		"empty": {Kind: KindSet},
	})
	require.NoError(t, err)

	item, err := m.ToItem(map[string]any{
		"id":     "x",
		"amount": 25,
		"ok":     true,
		"tags":   []string{"b", "a", "b"},
		"scores": []int{3, 1},
		"items":  []any{1, 2.5},
		"meta":   map[string]any{"color": "red"},
		"blob":   map[string]any{"free": "form"},
		"empty":  []string{},
	})
	require.NoError(t, err)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "x"}, item["i"])
	assert.Equal(t, &types.AttributeValueMemberN{Value: "25"}, item["amount"])
	assert.Equal(t, &types.AttributeValueMemberSS{Value: []string{"a", "b"}}, item["tags"])
	assert.Equal(t, &types.AttributeValueMemberNS{Value: []string{"1", "3"}}, item["scores"])
	_, hasEmpty := item["empty"]
	assert.False(t, hasEmpty, "empty sets are omitted")

	back, err := m.FromItem(item)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":     "x",
		"amount": float64(25),
		"ok":     true,
		"tags":   []string{"a", "b"},
		"scores": []float64{1, 3},
		"items":  []any{float64(1), 2.5},
		"meta":   map[string]any{"color": "red"},
		"blob":   map[string]any{"free": "form"},
	}, back)
}

func TestPadding_Idempotent(t *testing.T) {
	p := Padding{Length: 6, Char: "0"}
	for _, x := range []string{"1", "42", "12345", "123456", "9876543", "a1"} {
		padded := p.Pad(x)
		if len(x) <= p.Length && len(padded) != p.Length {
			t.Errorf("Pad(%q) = %q, want length %d", x, padded, p.Length)
		}
		if len(x) > p.Length && padded != x {
			t.Errorf("Pad(%q) = %q, want value passed through", x, padded)
		}
		if got := p.Unpad(padded); got != x {
			t.Errorf("Unpad(Pad(%q)) = %q", x, got)
		}
	}
}

func TestPadding_KeyRoundTrip(t *testing.T) {
	code := Attribute{Name: "code", Kind: KindString, Padding: &Padding{Length: 4, Char: "0"}}
	num := Attribute{Name: "n", Kind: KindNumber, Padding: &Padding{Length: 4, Char: "0"}}

	tests := []struct {
		attr Attribute
		in   any
		key  string
		err  bool
	}{
		{attr: code, in: "5", key: "0005"},
		{attr: code, in: "é", key: "000é"},
		{attr: code, in: "日本", key: "00日本"},
		{attr: code, in: "0", key: "0000"},
		{attr: code, in: "abcd", key: "abcd"},
		{attr: code, in: "00123", key: "00123"},
		{attr: code, in: "05", err: true},
		{attr: code, in: "0123", err: true},
		{attr: num, in: 0, key: "0000"},
		{attr: num, in: -5, key: "00-5"},
		{attr: num, in: 0.5, key: "00.5"},
		{attr: num, in: 123456, key: "123456"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			key, err := KeyString(tt.attr, tt.in)
			if tt.err {
				var invalid *ValidationError
				require.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.key, key)
			back, err := FromKeyString(tt.attr, key)
			require.NoError(t, err)
			if tt.attr.Kind == KindNumber {
				want, _ := ToFloat(tt.in)
				assert.Equal(t, want, back)
			} else {
				assert.Equal(t, tt.in, back)
			}
		})
	}

	t.Run("strings read back or are rejected", func(t *testing.T) {
		f := func(lead bool, body string) bool {
			if lead {
				body = "0" + body
			}
			if body == "" {
				return true
			}
			key, err := KeyString(code, body)
			if err != nil {
				var invalid *ValidationError
				return errors.As(err, &invalid) && strings.HasPrefix(body, "0")
			}
			if utf8.RuneCountInString(key) < code.Padding.Length {
				return false
			}
			back, err := FromKeyString(code, key)
			return err == nil && back == body
		}
		require.NoError(t, quick.Check(f, &quick.Config{MaxCount: 500}))
	})

	t.Run("numbers always read back", func(t *testing.T) {
		f := func(n int64) bool {
			key, err := KeyString(num, n)
			if err != nil {
				return false
			}
			back, err := FromKeyString(num, key)
			return err == nil && back == float64(n)
		}
		require.NoError(t, quick.Check(f, nil))
	})
}

func TestFormatNumber(t *testing.T) {
	type cents int64
	tests := []struct {
		in   any
		want string
	}{
		{uint64(math.MaxUint64), "18446744073709551615"},
		{int64(math.MinInt64), "-9223372036854775808"},
		{int64(math.MaxInt64), "9223372036854775807"},
		{uint8(7), "7"},
		{float32(0.1), "0.1"},
		{2.5, "2.5"},
		{42.0, "42"},
		{1e21, "1000000000000000000000"},
		{cents(1999), "1999"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatNumber(tt.in))
		})
	}
}

func TestKeyString(t *testing.T) {
	num := Attribute{Name: "n", Kind: KindNumber, Padding: &Padding{Length: 4, Char: "0"}}
	s, err := KeyString(num, 7)
	require.NoError(t, err)
	assert.Equal(t, "0007", s)

	v, err := FromKeyString(num, s)
	require.NoError(t, err)
	assert.Equal(t, float64(7), v)

	s, err = KeyString(Attribute{Name: "f", Kind: KindNumber}, 2.5)
	require.NoError(t, err)
	assert.Equal(t, "2.5", s)

	_, err = KeyString(Attribute{Name: "l", Kind: KindList}, []any{})
	require.Error(t, err)
}
