package ddbstore

import (
	"context"

	"github.com/acksell/ddbentity/dynamodb/ddbstore/ddbexpr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Scan reads every item of the table or a GSI in key order, optionally
// filtered. Parallel scans are not supported.
func (s *Store) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if params == nil {
		return nil, validationError("params is required")
	}
	if params.TotalSegments != nil || params.Segment != nil {
		return nil, validationError("parallel scan is not supported")
	}
	t, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	ks, err := t.keyspace(params.IndexName)
	if err != nil {
		return nil, err
	}

	r := rangeScan{ks: ks, prefix: ks.prefix, forward: true, start: params.ExclusiveStartKey}
	in := ddbexpr.Input{Names: params.ExpressionAttributeNames, Values: params.ExpressionAttributeValues}
	if err := r.configure(params.Limit, params.FilterExpression, in); err != nil {
		return nil, err
	}
	res, err := s.run(r)
	if err != nil {
		return nil, err
	}
	items, err := project(params.ProjectionExpression, params.ExpressionAttributeNames, res.items...)
	if err != nil {
		return nil, err
	}
	if params.Select == types.SelectCount {
		items = nil
	}
	return &dynamodb.ScanOutput{
		Items:            items,
		Count:            int32(len(res.items)),
		ScannedCount:     int32(res.scanned),
		LastEvaluatedKey: res.lastKey,
	}, nil
}
