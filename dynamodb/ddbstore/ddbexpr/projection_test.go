package ddbexpr

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjection(t *testing.T) {
	item := testItem()
	item["lines"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{
		&types.AttributeValueMemberM{Value: Item{"sku": s("x1"), "qty": n("2")}},
		&types.AttributeValueMemberM{Value: Item{"sku": s("x2"), "qty": n("3")}},
	}}

	paths, err := ParseProjection("#s, lines[1].sku, lines[0].qty, missing", map[string]string{"#s": "status"})
	require.NoError(t, err)

	got := Project(item, paths)
	want := Item{
		"status": s("open"),
		"lines": &types.AttributeValueMemberL{Value: []types.AttributeValue{
			&types.AttributeValueMemberM{Value: Item{"qty": n("2")}},
			&types.AttributeValueMemberM{Value: Item{"sku": s("x2")}},
		}},
	}
	assert.Equal(t, want, got)

	got["status"] = s("mutated")
	assert.Equal(t, s("open"), item["status"], "projected values are copies")
}

func TestParseProjection_Errors(t *testing.T) {
	for _, expr := range []string{"", "a,", "#missing", "a b"} {
		if _, err := ParseProjection(expr, nil); err == nil {
			t.Errorf("ParseProjection(%q) succeeded", expr)
		}
	}
}
