package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/TheMichaelB/vaultkeys/internal/events"
)

// Attribute names of the DynamoDB table. The partition key is a string.
const (
	dynamoKeyAttr     = "state_key"
	dynamoValueAttr   = "value"
	dynamoUpdatedAttr = "updated_at"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDBStore.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDBStore keeps one item per key in a table.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *events.Logger
}

// NewDynamoDBStore creates a store over an existing client.
func NewDynamoDBStore(client DynamoDBAPI, tableName string, logger *events.Logger) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		logger:    logger.WithField("component", "dynamodb_store"),
	}
}

// NewDynamoDBStoreFromEnv builds the client from the default AWS credential chain.
func NewDynamoDBStoreFromEnv(ctx context.Context, region, tableName string, logger *events.Logger) (*DynamoDBStore, error) {
	if tableName == "" {
		return nil, errors.New("dynamodb table name is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewDynamoDBStore(dynamodb.NewFromConfig(cfg), tableName, logger), nil
}

// Get decodes the item for key.
func (s *DynamoDBStore) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("dynamodb get: %w", err)
	}

	if result.Item == nil {
		return false, nil
	}

	valueAttr, ok := result.Item[dynamoValueAttr].(*types.AttributeValueMemberS)
	if !ok {
		return false, fmt.Errorf("%w: invalid value attribute type", ErrStateCorrupt)
	}

	return true, decode([]byte(valueAttr.Value), out)
}

// Save writes the item for key.
func (s *DynamoDBStore) Save(ctx context.Context, key string, value interface{}) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if value == nil {
		return s.Remove(ctx, key)
	}

	data, err := encode(value)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			dynamoKeyAttr:     &types.AttributeValueMemberS{Value: key},
			dynamoValueAttr:   &types.AttributeValueMemberS{Value: string(data)},
			dynamoUpdatedAttr: &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb put: %w", err)
	}

	s.logger.WithField("key", key).Debug("Saved value to DynamoDB")
	return nil
}

// Remove deletes the item for key.
func (s *DynamoDBStore) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete: %w", err)
	}
	return nil
}

// Keys scans the table for all keys.
func (s *DynamoDBStore) Keys(ctx context.Context) ([]string, error) {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:            aws.String(s.tableName),
		ProjectionExpression: aws.String(dynamoKeyAttr),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan: %w", err)
		}
		for _, item := range page.Items {
			if k, ok := item[dynamoKeyAttr].(*types.AttributeValueMemberS); ok {
				keys = append(keys, k.Value)
			}
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op.
func (s *DynamoDBStore) Close() error {
	return nil
}

func itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKeyAttr: &types.AttributeValueMemberS{Value: key},
	}
}
