package outreach

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/wolfman30/propreach/pkg/logging"
)

// Secondary indexes on the outreach queue table.
const (
	PendingIndex = "userChannel-createdAtMs-index"
	LeadIndex    = "leadId-index"
	AddressIndex = "addressKey-index"
)

// Queue is the durable per-channel outreach work queue.
type Queue interface {
	Enqueue(ctx context.Context, item *QueueItem) (bool, error)
	PendingBatch(ctx context.Context, userID string, channel Channel, limit int, dueBefore time.Time) ([]QueueItem, error)
	MarkSent(ctx context.Context, itemID string, touchCount int, sentAt time.Time) error
	MarkStatus(ctx context.Context, itemID string, status Status) error
	Get(ctx context.Context, itemID string) (*QueueItem, error)
}

// SiblingFinder looks up queue items that belong to the same lead.
type SiblingFinder interface {
	ByContact(ctx context.Context, contactID string) ([]QueueItem, error)
	ByLead(ctx context.Context, userID, leadID string) ([]QueueItem, error)
	ByAddress(ctx context.Context, userID, addressKey string) ([]QueueItem, error)
	ByNamePrefix(ctx context.Context, userID, prefix string) ([]QueueItem, error)
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoQueue persists queue items in DynamoDB keyed by contactId#channel.
type DynamoQueue struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
	now       func() time.Time
}

var _ Queue = (*DynamoQueue)(nil)
var _ SiblingFinder = (*DynamoQueue)(nil)

// NewDynamoQueue builds a queue backed by the provided DynamoDB client.
func NewDynamoQueue(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoQueue {
	if client == nil {
		panic("outreach: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("outreach: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoQueue{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue inserts a PENDING item for (contactId, channel). It returns false
// without error when the pair is already queued.
func (q *DynamoQueue) Enqueue(ctx context.Context, item *QueueItem) (bool, error) {
	if item == nil {
		return false, errors.New("outreach: item cannot be nil")
	}
	if item.UserID == "" || item.ContactID == "" || item.Channel == "" {
		return false, errors.New("outreach: userId, contactId and channel are required")
	}
	now := q.now()
	item.ID = ItemID(item.ContactID, item.Channel)
	item.UserChannel = UserChannelKey(item.UserID, item.Channel)
	item.Status = StatusPending
	item.TouchCount = 0
	item.LastSentAt = nil
	item.LastSentAtMs = 0
	item.CreatedAt = now
	item.CreatedAtMs = now.UnixMilli()
	item.UpdatedAt = now
	item.ContactPhone = NormalizePhone(item.ContactPhone)
	item.AddressKey = AddressKey(item.PropertyAddress)
	item.NameKey = NameKey(item.ContactName)

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return false, fmt.Errorf("outreach: failed to marshal item: %w", err)
	}
	_, err = q.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(q.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			q.logger.Debug("outreach item already queued", "item_id", item.ID)
			return false, nil
		}
		return false, fmt.Errorf("outreach: failed to enqueue item: %w", err)
	}
	return true, nil
}

// PendingBatch returns up to limit PENDING items that are due, oldest first.
// An item is due when it has never been touched or its last touch is before
// dueBefore; a zero dueBefore disables the check. Pages are read until limit
// due items are found so recently touched items cannot crowd out the rest.
func (q *DynamoQueue) PendingBatch(ctx context.Context, userID string, channel Channel, limit int, dueBefore time.Time) ([]QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	filter := "#status = :pending"
	values := map[string]types.AttributeValue{
		":uc":      &types.AttributeValueMemberS{Value: UserChannelKey(userID, channel)},
		":pending": &types.AttributeValueMemberS{Value: string(StatusPending)},
	}
	if !dueBefore.IsZero() {
		filter += " AND (attribute_not_exists(lastSentAtMs) OR lastSentAtMs < :cutoff)"
		values[":cutoff"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(dueBefore.UnixMilli(), 10)}
	}
	input := &dynamodb.QueryInput{
		TableName:              aws.String(q.tableName),
		IndexName:              aws.String(PendingIndex),
		KeyConditionExpression: aws.String("userChannel = :uc"),
		FilterExpression:       aws.String(filter),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(true),
	}
	items, err := q.queryAll(ctx, input, limit)
	if err != nil {
		return nil, fmt.Errorf("outreach: failed to load pending batch: %w", err)
	}
	return items, nil
}

// MarkSent records a delivered touch. The write is refused when the item is
// terminal or already carries an equal or higher touch count.
func (q *DynamoQueue) MarkSent(ctx context.Context, itemID string, touchCount int, sentAt time.Time) error {
	if itemID == "" {
		return errors.New("outreach: itemID required")
	}
	sent, err := attributevalue.Marshal(sentAt.UTC())
	if err != nil {
		return fmt.Errorf("outreach: failed to marshal sentAt: %w", err)
	}
	updated, err := attributevalue.Marshal(q.now())
	if err != nil {
		return fmt.Errorf("outreach: failed to marshal updatedAt: %w", err)
	}
	return q.update(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(q.tableName),
		Key:              itemKey(itemID),
		UpdateExpression: aws.String("SET touchCount = :tc, lastSentAt = :sent, lastSentAtMs = :sentMs, updatedAt = :updated"),
		ConditionExpression: aws.String(
			"attribute_exists(id) AND touchCount < :tc AND NOT (#status IN (:optedOut, :completed))",
		),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tc":        &types.AttributeValueMemberN{Value: strconv.Itoa(touchCount)},
			":sent":      sent,
			":sentMs":    &types.AttributeValueMemberN{Value: strconv.FormatInt(sentAt.UnixMilli(), 10)},
			":updated":   updated,
			":optedOut":  &types.AttributeValueMemberS{Value: string(StatusOptedOut)},
			":completed": &types.AttributeValueMemberS{Value: string(StatusCompleted)},
		},
	})
}

// MarkStatus moves an item to status. Terminal items accept only a repeat of
// their own status, which makes opt-out and completion idempotent.
func (q *DynamoQueue) MarkStatus(ctx context.Context, itemID string, status Status) error {
	if itemID == "" {
		return errors.New("outreach: itemID required")
	}
	updated, err := attributevalue.Marshal(q.now())
	if err != nil {
		return fmt.Errorf("outreach: failed to marshal updatedAt: %w", err)
	}
	return q.update(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(q.tableName),
		Key:              itemKey(itemID),
		UpdateExpression: aws.String("SET #status = :status, updatedAt = :updated"),
		ConditionExpression: aws.String(
			"attribute_exists(id) AND (NOT (#status IN (:optedOut, :completed)) OR #status = :status)",
		),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":    &types.AttributeValueMemberS{Value: string(status)},
			":updated":   updated,
			":optedOut":  &types.AttributeValueMemberS{Value: string(StatusOptedOut)},
			":completed": &types.AttributeValueMemberS{Value: string(StatusCompleted)},
		},
	})
}

// Get fetches a single item by id.
func (q *DynamoQueue) Get(ctx context.Context, itemID string) (*QueueItem, error) {
	if itemID == "" {
		return nil, errors.New("outreach: itemID required")
	}
	out, err := q.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(q.tableName),
		Key:            itemKey(itemID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("outreach: failed to fetch item: %w", err)
	}
	if out.Item == nil {
		return nil, ErrItemNotFound
	}
	var item QueueItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("outreach: failed to decode item: %w", err)
	}
	return &item, nil
}

// ByContact returns the contact's items across all channels.
func (q *DynamoQueue) ByContact(ctx context.Context, contactID string) ([]QueueItem, error) {
	var items []QueueItem
	for _, ch := range Channels {
		item, err := q.Get(ctx, ItemID(contactID, ch))
		if errors.Is(err, ErrItemNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

// ByLead returns every item queued for the lead under the account.
func (q *DynamoQueue) ByLead(ctx context.Context, userID, leadID string) ([]QueueItem, error) {
	if leadID == "" {
		return nil, nil
	}
	return q.queryIndex(ctx, LeadIndex, "leadId", leadID, userID)
}

// ByAddress returns every item whose normalized property address matches.
func (q *DynamoQueue) ByAddress(ctx context.Context, userID, addressKey string) ([]QueueItem, error) {
	if addressKey == "" {
		return nil, nil
	}
	return q.queryIndex(ctx, AddressIndex, "addressKey", addressKey, userID)
}

// ByNamePrefix scans the account's partitions for items whose name key starts with prefix.
func (q *DynamoQueue) ByNamePrefix(ctx context.Context, userID, prefix string) ([]QueueItem, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, nil
	}
	var all []QueueItem
	for _, ch := range Channels {
		items, err := q.queryAll(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(q.tableName),
			IndexName:              aws.String(PendingIndex),
			KeyConditionExpression: aws.String("userChannel = :uc"),
			FilterExpression:       aws.String("begins_with(nameKey, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uc":     &types.AttributeValueMemberS{Value: UserChannelKey(userID, ch)},
				":prefix": &types.AttributeValueMemberS{Value: prefix},
			},
		}, 0)
		if err != nil {
			return nil, fmt.Errorf("outreach: failed to query by name: %w", err)
		}
		all = append(all, items...)
	}
	return all, nil
}

func (q *DynamoQueue) queryIndex(ctx context.Context, index, attr, value, userID string) ([]QueueItem, error) {
	items, err := q.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(q.tableName),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String("#k = :v"),
		FilterExpression:       aws.String("userId = :user"),
		ExpressionAttributeNames: map[string]string{
			"#k": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v":    &types.AttributeValueMemberS{Value: value},
			":user": &types.AttributeValueMemberS{Value: userID},
		},
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("outreach: failed to query %s: %w", index, err)
	}
	return items, nil
}

// queryAll pages through a query. limit <= 0 means no limit.
func (q *DynamoQueue) queryAll(ctx context.Context, input *dynamodb.QueryInput, limit int) ([]QueueItem, error) {
	var items []QueueItem
	for {
		out, err := q.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, raw := range out.Items {
			var item QueueItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("decode item: %w", err)
			}
			items = append(items, item)
			if limit > 0 && len(items) >= limit {
				return items, nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (q *DynamoQueue) update(ctx context.Context, input *dynamodb.UpdateItemInput) error {
	if _, err := q.client.UpdateItem(ctx, input); err != nil {
		if isConditionalFailure(err) {
			return ErrStaleUpdate
		}
		return fmt.Errorf("outreach: failed to update item: %w", err)
	}
	return nil
}

func itemKey(itemID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: itemID},
	}
}

func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
