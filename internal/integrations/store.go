package integrations

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/wolfman30/propreach/internal/ratelimit"
	"github.com/wolfman30/propreach/pkg/logging"
)

// LocationIndex is the GSI used to resolve inbound webhooks to an account.
const LocationIndex = "locationId-index"

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store persists integrations keyed by user id, so an account holds at most
// one integration and creating a new one replaces the prior record.
type Store struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
	now       func() time.Time
}

var _ ratelimit.CounterStore = (*Store)(nil)

// NewStore builds a store backed by the provided DynamoDB client.
func NewStore(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("integrations: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("integrations: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Put creates or replaces the account's integration and marks it active.
func (s *Store) Put(ctx context.Context, integ *Integration) error {
	if integ == nil || integ.UserID == "" {
		return errors.New("integrations: userId required")
	}
	now := s.now()
	integ.IsActive = true
	if integ.Counters == nil {
		integ.Counters = map[string]ratelimit.Window{}
	}
	if integ.CreatedAt.IsZero() {
		integ.CreatedAt = now
	}
	integ.UpdatedAt = now

	item, err := attributevalue.MarshalMap(integ)
	if err != nil {
		return fmt.Errorf("integrations: failed to marshal integration: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("integrations: failed to persist integration: %w", err)
	}
	return nil
}

// Get returns the account's integration, active or not.
func (s *Store) Get(ctx context.Context, userID string) (*Integration, error) {
	if userID == "" {
		return nil, errors.New("integrations: userId required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            userKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("integrations: failed to fetch integration: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var integ Integration
	if err := attributevalue.UnmarshalMap(out.Item, &integ); err != nil {
		return nil, fmt.Errorf("integrations: failed to decode integration: %w", err)
	}
	return &integ, nil
}

// GetActive returns the account's integration only while it is active.
func (s *Store) GetActive(ctx context.Context, userID string) (*Integration, error) {
	integ, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !integ.IsActive {
		return nil, ErrNotFound
	}
	return integ, nil
}

// FindByLocation resolves a CRM location id to its active integration.
func (s *Store) FindByLocation(ctx context.Context, locationID string) (*Integration, error) {
	if locationID == "" {
		return nil, errors.New("integrations: locationId required")
	}
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(LocationIndex),
		KeyConditionExpression: aws.String("locationId = :loc"),
		FilterExpression:       aws.String("isActive = :active"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":loc":    &types.AttributeValueMemberS{Value: locationID},
			":active": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("integrations: failed to query location: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}
	var integ Integration
	if err := attributevalue.UnmarshalMap(out.Items[0], &integ); err != nil {
		return nil, fmt.Errorf("integrations: failed to decode integration: %w", err)
	}
	return &integ, nil
}

// ListActive returns every active integration.
func (s *Store) ListActive(ctx context.Context) ([]Integration, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("isActive = :active"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active": &types.AttributeValueMemberBOOL{Value: true},
		},
	}
	var out []Integration
	for {
		page, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("integrations: failed to scan integrations: %w", err)
		}
		for _, raw := range page.Items {
			var integ Integration
			if err := attributevalue.UnmarshalMap(raw, &integ); err != nil {
				return nil, fmt.Errorf("integrations: failed to decode integration: %w", err)
			}
			out = append(out, integ)
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

// Deactivate disables an integration without deleting its counters.
func (s *Store) Deactivate(ctx context.Context, userID string) error {
	updated, err := attributevalue.Marshal(s.now())
	if err != nil {
		return fmt.Errorf("integrations: failed to marshal updatedAt: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 userKey(userID),
		UpdateExpression:    aws.String("SET isActive = :inactive, updatedAt = :updated"),
		ConditionExpression: aws.String("attribute_exists(userId)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inactive": &types.AttributeValueMemberBOOL{Value: false},
			":updated":  updated,
		},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrNotFound
		}
		return fmt.Errorf("integrations: failed to deactivate: %w", err)
	}
	return nil
}

// SaveToken stores refreshed OAuth credentials.
func (s *Store) SaveToken(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error {
	expires, err := attributevalue.Marshal(expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("integrations: failed to marshal expiresAt: %w", err)
	}
	updated, err := attributevalue.Marshal(s.now())
	if err != nil {
		return fmt.Errorf("integrations: failed to marshal updatedAt: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 userKey(userID),
		UpdateExpression:    aws.String("SET accessToken = :access, refreshToken = :refresh, expiresAt = :expires, updatedAt = :updated"),
		ConditionExpression: aws.String("attribute_exists(userId)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":access":  &types.AttributeValueMemberS{Value: accessToken},
			":refresh": &types.AttributeValueMemberS{Value: refreshToken},
			":expires": expires,
			":updated": updated,
		},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrNotFound
		}
		return fmt.Errorf("integrations: failed to save token: %w", err)
	}
	return nil
}

// LoadWindow returns the account's counter window for kind.
func (s *Store) LoadWindow(ctx context.Context, userID string, kind ratelimit.Kind) (ratelimit.Window, error) {
	integ, err := s.Get(ctx, userID)
	if err != nil {
		return ratelimit.Window{}, err
	}
	return integ.Counters[string(kind)], nil
}

// SwapWindow writes next only if the stored window still carries prev's version.
func (s *Store) SwapWindow(ctx context.Context, userID string, kind ratelimit.Kind, prev, next ratelimit.Window) error {
	nextAV, err := attributevalue.Marshal(next)
	if err != nil {
		return fmt.Errorf("integrations: failed to marshal window: %w", err)
	}
	condition := "#counters.#kind.#ver = :prev"
	if prev.Version == 0 {
		condition = "attribute_exists(userId) AND (attribute_not_exists(#counters.#kind) OR #counters.#kind.#ver = :prev)"
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 userKey(userID),
		UpdateExpression:    aws.String("SET #counters.#kind = :next"),
		ConditionExpression: aws.String(condition),
		ExpressionAttributeNames: map[string]string{
			"#counters": "counters",
			"#kind":     string(kind),
			"#ver":      "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next": nextAV,
			":prev": &types.AttributeValueMemberN{Value: strconv.FormatInt(prev.Version, 10)},
		},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ratelimit.ErrConflict
		}
		return fmt.Errorf("integrations: failed to swap window: %w", err)
	}
	return nil
}

func userKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: userID},
	}
}

func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
