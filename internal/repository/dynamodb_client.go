package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	skValue = "KV#"
	pingKey = "__ping__"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore implements Store on a single DynamoDB table keyed by PK/SK.
// Each logical key is one item; the table's TTL attribute is "ttl".
//
// Mutations are read-modify-write and carry no cross-request isolation.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// kvItem is the decoded form of a stored key.
type kvItem struct {
	value    string
	hasValue bool
	items    []string
	fields   map[string]string
	ttl      int64
}

// NewDynamoStore creates a DynamoDB-backed Store.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, now: time.Now}, nil
}

func itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: key},
		"SK": &types.AttributeValueMemberS{Value: skValue},
	}
}

// ttlValue returns the epoch-second expiry for ttl, rounded up so an item
// never expires before its full duration. Zero means no expiry.
func (c *DynamoStore) ttlValue(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	ms := c.now().Add(ttl).UnixMilli()
	return (ms + 999) / 1000
}

func (c *DynamoStore) expired(it kvItem) bool {
	return it.ttl > 0 && c.now().Unix() >= it.ttl
}

// load reads key. DynamoDB deletes expired items lazily, so the TTL is
// checked here as well.
func (c *DynamoStore) load(ctx context.Context, key string) (kvItem, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return kvItem{}, false, fmt.Errorf("repository: get item %q: %w", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return kvItem{}, false, nil
	}
	it, err := decodeItem(out.Item)
	if err != nil {
		return kvItem{}, false, fmt.Errorf("repository: decode item %q: %w", key, err)
	}
	if c.expired(it) {
		return kvItem{}, false, nil
	}
	return it, true, nil
}

func (c *DynamoStore) save(ctx context.Context, key string, it kvItem) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      encodeItem(key, it),
	})
	if err != nil {
		return fmt.Errorf("repository: put item %q: %w", key, err)
	}
	return nil
}

func (c *DynamoStore) Get(ctx context.Context, key string) (string, bool, error) {
	it, ok, err := c.load(ctx, key)
	if err != nil || !ok || !it.hasValue {
		return "", false, err
	}
	return it.value, true, nil
}

func (c *DynamoStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.save(ctx, key, kvItem{value: value, hasValue: true, ttl: c.ttlValue(ttl)})
}

func (c *DynamoStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.load(ctx, key)
	return ok, err
}

func (c *DynamoStore) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("repository: delete item %q: %w", key, err)
	}
	return nil
}

func (c *DynamoStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return c.Delete(ctx, key)
	}
	it, ok, err := c.load(ctx, key)
	if err != nil || !ok {
		return err
	}
	it.ttl = c.ttlValue(ttl)
	return c.save(ctx, key, it)
}

func (c *DynamoStore) ListPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	it, _, err := c.load(ctx, key)
	if err != nil {
		return err
	}
	it.items = append(it.items, values...)
	return c.save(ctx, key, it)
}

func (c *DynamoStore) ListTrim(ctx context.Context, key string, start, stop int64) error {
	it, ok, err := c.load(ctx, key)
	if err != nil || !ok {
		return err
	}
	lo, hi, ok := normalizeRange(start, stop, int64(len(it.items)))
	if !ok {
		it.items = nil
	} else {
		it.items = append([]string(nil), it.items[lo:hi+1]...)
	}
	if len(it.items) == 0 && !it.hasValue && len(it.fields) == 0 {
		return c.Delete(ctx, key)
	}
	return c.save(ctx, key, it)
}

func (c *DynamoStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	it, ok, err := c.load(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	lo, hi, ok := normalizeRange(start, stop, int64(len(it.items)))
	if !ok {
		return []string{}, nil
	}
	return append([]string(nil), it.items[lo:hi+1]...), nil
}

func (c *DynamoStore) HashSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	it, _, err := c.load(ctx, key)
	if err != nil {
		return err
	}
	if it.fields == nil {
		it.fields = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		it.fields[k] = v
	}
	return c.save(ctx, key, it)
}

// Ping issues a cheap read to confirm the table is reachable.
func (c *DynamoStore) Ping(ctx context.Context) error {
	if _, _, err := c.load(ctx, pingKey); err != nil {
		return fmt.Errorf("repository: ping: %w", err)
	}
	return nil
}

func encodeItem(key string, it kvItem) map[string]types.AttributeValue {
	item := itemKey(key)
	if it.hasValue {
		item["value"] = &types.AttributeValueMemberS{Value: it.value}
	}
	if len(it.items) > 0 {
		list := make([]types.AttributeValue, len(it.items))
		for i, v := range it.items {
			list[i] = &types.AttributeValueMemberS{Value: v}
		}
		item["items"] = &types.AttributeValueMemberL{Value: list}
	}
	if len(it.fields) > 0 {
		m := make(map[string]types.AttributeValue, len(it.fields))
		for k, v := range it.fields {
			m[k] = &types.AttributeValueMemberS{Value: v}
		}
		item["fields"] = &types.AttributeValueMemberM{Value: m}
	}
	if it.ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(it.ttl, 10)}
	}
	return item
}

func decodeItem(item map[string]types.AttributeValue) (kvItem, error) {
	var it kvItem
	if v, ok := item["value"]; ok {
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return kvItem{}, errors.New(`attribute "value" is not a string`)
		}
		it.value, it.hasValue = s.Value, true
	}
	if v, ok := item["items"]; ok {
		l, ok := v.(*types.AttributeValueMemberL)
		if !ok {
			return kvItem{}, errors.New(`attribute "items" is not a list`)
		}
		it.items = make([]string, 0, len(l.Value))
		for i, e := range l.Value {
			s, ok := e.(*types.AttributeValueMemberS)
			if !ok {
				return kvItem{}, fmt.Errorf(`attribute "items"[%d] is not a string`, i)
			}
			it.items = append(it.items, s.Value)
		}
	}
	if v, ok := item["fields"]; ok {
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return kvItem{}, errors.New(`attribute "fields" is not a map`)
		}
		it.fields = make(map[string]string, len(m.Value))
		for k, e := range m.Value {
			s, ok := e.(*types.AttributeValueMemberS)
			if !ok {
				return kvItem{}, fmt.Errorf(`attribute "fields".%s is not a string`, k)
			}
			it.fields[k] = s.Value
		}
	}
	if v, ok := item["ttl"]; ok {
		n, ok := v.(*types.AttributeValueMemberN)
		if !ok {
			return kvItem{}, errors.New(`attribute "ttl" is not a number`)
		}
		ttl, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return kvItem{}, fmt.Errorf(`parse attribute "ttl": %w`, err)
		}
		it.ttl = ttl
	}
	return it, nil
}
