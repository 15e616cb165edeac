package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/seantiz/urumi/internal/awsclient"
	"github.com/seantiz/urumi/internal/model"
)

// Compile-time interface satisfaction check.
var _ Store = (*DynamoStore)(nil)

// DynamoStore implements Store on a DynamoDB table whose partition key is
// the string attribute "id".
type DynamoStore struct {
	client awsclient.DynamoDBAPI
	table  string
}

// NewDynamoStore returns a registry backed by table.
func NewDynamoStore(client awsclient.DynamoDBAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (d *DynamoStore) Close() error { return nil }

func (d *DynamoStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

// CreateStore inserts a new store record, rejecting an existing id.
func (d *DynamoStore) CreateStore(ctx context.Context, st *model.Store) error {
	rec := *st
	rec.CreatedAt = rec.CreatedAt.UTC()
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if isConditionFailed(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("put store: %w", err)
	}
	return nil
}

// GetStore retrieves a store by ID with a strongly consistent read.
func (d *DynamoStore) GetStore(ctx context.Context, id string) (*model.Store, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get store: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	st := &model.Store{}
	if err := attributevalue.UnmarshalMap(out.Item, st); err != nil {
		return nil, fmt.Errorf("unmarshal store: %w", err)
	}
	return st, nil
}

// scanAll reads the whole table. Fleets are small; there is no index on
// createdAt to query instead.
func (d *DynamoStore) scanAll(ctx context.Context) ([]*model.Store, error) {
	p := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName:      aws.String(d.table),
		ConsistentRead: aws.Bool(true),
	})

	var stores []*model.Store
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan stores: %w", err)
		}
		var batch []*model.Store
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal stores: %w", err)
		}
		stores = append(stores, batch...)
	}
	return stores, nil
}

// ListStores returns all stores, newest first.
func (d *DynamoStore) ListStores(ctx context.Context) ([]*model.Store, error) {
	stores, err := d.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(stores, func(i, j int) bool {
		if stores[i].CreatedAt.Equal(stores[j].CreatedAt) {
			return stores[i].ID > stores[j].ID
		}
		return stores[i].CreatedAt.After(stores[j].CreatedAt)
	})
	return stores, nil
}

// ListStuck returns stores in status created before the cutoff, oldest first.
func (d *DynamoStore) ListStuck(ctx context.Context, status string, createdBefore time.Time) ([]*model.Store, error) {
	stores, err := d.scanAll(ctx)
	if err != nil {
		return nil, err
	}

	var stuck []*model.Store
	for _, st := range stores {
		if st.Status == status && st.CreatedAt.Before(createdBefore) {
			stuck = append(stuck, st)
		}
	}
	sort.Slice(stuck, func(i, j int) bool {
		return stuck[i].CreatedAt.Before(stuck[j].CreatedAt)
	})
	return stuck, nil
}

// UpdateStoreStatus conditionally moves a store to status.
func (d *DynamoStore) UpdateStoreStatus(ctx context.Context, id, status string) error {
	froms := model.SourcesOf(status)
	if len(froms) == 0 {
		return d.transitionError(ctx, id)
	}

	values := map[string]types.AttributeValue{
		":to": &types.AttributeValueMemberS{Value: status},
	}
	names := make([]string, len(froms))
	for i, f := range froms {
		name := fmt.Sprintf(":from%d", i)
		names[i] = name
		values[name] = &types.AttributeValueMemberS{Value: f}
	}

	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       d.key(id),
		UpdateExpression:          aws.String("SET #s = :to"),
		ConditionExpression:       aws.String("attribute_exists(id) AND #s IN (" + strings.Join(names, ", ") + ")"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	})
	if isConditionFailed(err) {
		return d.transitionError(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("update store status: %w", err)
	}
	return nil
}

func (d *DynamoStore) transitionError(ctx context.Context, id string) error {
	if _, err := d.GetStore(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

// DeleteStore removes a store record.
func (d *DynamoStore) DeleteStore(ctx context.Context, id string) error {
	out, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(d.table),
		Key:          d.key(id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return fmt.Errorf("delete store: %w", err)
	}
	if len(out.Attributes) == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStoreStats returns fleet counts by status and by type.
func (d *DynamoStore) GetStoreStats(ctx context.Context) (*Stats, error) {
	stores, err := d.scanAll(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:         len(stores),
		CountByStatus: make(map[string]int),
		CountByType:   make(map[string]int),
	}
	for _, st := range stores {
		stats.CountByStatus[st.Status]++
		stats.CountByType[st.Type]++
	}
	return stats, nil
}

func isConditionFailed(err error) bool {
	if err == nil {
		return false
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}
