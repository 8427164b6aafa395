package outreach

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/propreach/pkg/logging"
)

type mockDynamo struct {
	putInput     *dynamodb.PutItemInput
	putErr       error
	updateInputs []*dynamodb.UpdateItemInput
	updateErr    error
	getItems     map[string]map[string]types.AttributeValue
	queryInputs  []dynamodb.QueryInput
	queryPages   []*dynamodb.QueryOutput
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = in
	if m.putErr != nil {
		return nil, m.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, in)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	id := in.Key["id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: m.getItems[id]}, nil
}

func (m *mockDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.queryInputs = append(m.queryInputs, *in)
	if len(m.queryPages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	page := m.queryPages[0]
	m.queryPages = m.queryPages[1:]
	return page, nil
}

func marshalItems(t *testing.T, items ...QueueItem) []map[string]types.AttributeValue {
	t.Helper()
	out := make([]map[string]types.AttributeValue, 0, len(items))
	for _, item := range items {
		av, err := attributevalue.MarshalMap(item)
		require.NoError(t, err)
		out = append(out, av)
	}
	return out
}

func TestDynamoQueue_EnqueuePopulatesKeys(t *testing.T) {
	mock := &mockDynamo{}
	q := NewDynamoQueue(mock, "outreach-queue", logging.Default())

	created, err := q.Enqueue(context.Background(), &QueueItem{
		UserID:          "user-1",
		ContactID:       "contact-1",
		Channel:         ChannelSMS,
		LeadID:          "lead-9",
		PropertyAddress: "42 Elm Street",
		ContactName:     "Ana Ruiz (Relative)",
		ContactPhone:    "(202) 456-1111",
		TouchCount:      4,
	})
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, mock.putInput)
	assert.Equal(t, "attribute_not_exists(id)", *mock.putInput.ConditionExpression)

	var stored QueueItem
	require.NoError(t, attributevalue.UnmarshalMap(mock.putInput.Item, &stored))
	assert.Equal(t, "contact-1#SMS", stored.ID)
	assert.Equal(t, "user-1#SMS", stored.UserChannel)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Zero(t, stored.TouchCount)
	assert.Equal(t, "+12024561111", stored.ContactPhone)
	assert.Equal(t, "42 elm st", stored.AddressKey)
	assert.Equal(t, "ana ruiz", stored.NameKey)
	assert.NotZero(t, stored.CreatedAtMs)
	assert.Nil(t, stored.LastSentAt)
}

func TestDynamoQueue_EnqueueIsIdempotent(t *testing.T) {
	mock := &mockDynamo{putErr: &types.ConditionalCheckFailedException{}}
	q := NewDynamoQueue(mock, "outreach-queue", logging.Default())

	created, err := q.Enqueue(context.Background(), &QueueItem{UserID: "u", ContactID: "c", Channel: ChannelEmail})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestDynamoQueue_EnqueueValidates(t *testing.T) {
	q := NewDynamoQueue(&mockDynamo{}, "outreach-queue", nil)
	_, err := q.Enqueue(context.Background(), nil)
	assert.Error(t, err)
	_, err = q.Enqueue(context.Background(), &QueueItem{UserID: "u", Channel: ChannelSMS})
	assert.Error(t, err)
}

func TestDynamoQueue_PendingBatchPagesUntilLimit(t *testing.T) {
	first := marshalItems(t,
		QueueItem{ID: "a#SMS", ContactID: "a", Status: StatusPending},
		QueueItem{ID: "b#SMS", ContactID: "b", Status: StatusPending},
	)
	second := marshalItems(t,
		QueueItem{ID: "c#SMS", ContactID: "c", Status: StatusPending},
		QueueItem{ID: "d#SMS", ContactID: "d", Status: StatusPending},
	)
	mock := &mockDynamo{queryPages: []*dynamodb.QueryOutput{
		{Items: first, LastEvaluatedKey: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "b#SMS"}}},
		{Items: second},
	}}
	q := NewDynamoQueue(mock, "outreach-queue", logging.Default())

	items, err := q.PendingBatch(context.Background(), "user-1", ChannelSMS, 3, time.Time{})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{items[0].ContactID, items[1].ContactID, items[2].ContactID})

	require.Len(t, mock.queryInputs, 2)
	in := mock.queryInputs[0]
	assert.Equal(t, PendingIndex, *in.IndexName)
	assert.True(t, *in.ScanIndexForward)
	assert.Equal(t, "user-1#SMS", in.ExpressionAttributeValues[":uc"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "PENDING", in.ExpressionAttributeValues[":pending"].(*types.AttributeValueMemberS).Value)
	assert.NotNil(t, mock.queryInputs[1].ExclusiveStartKey)
	assert.NotContains(t, *in.FilterExpression, "lastSentAtMs")
}

func TestDynamoQueue_PendingBatchFiltersByDueness(t *testing.T) {
	mock := &mockDynamo{queryPages: []*dynamodb.QueryOutput{{}}}
	q := NewDynamoQueue(mock, "outreach-queue", logging.Default())
	cutoff := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

	_, err := q.PendingBatch(context.Background(), "user-1", ChannelSMS, 5, cutoff)
	require.NoError(t, err)

	in := mock.queryInputs[0]
	assert.Contains(t, *in.FilterExpression, "attribute_not_exists(lastSentAtMs) OR lastSentAtMs < :cutoff")
	assert.Equal(t, strconv.FormatInt(cutoff.UnixMilli(), 10), in.ExpressionAttributeValues[":cutoff"].(*types.AttributeValueMemberN).Value)
}

func TestDynamoQueue_PendingBatchZeroLimit(t *testing.T) {
	mock := &mockDynamo{}
	q := NewDynamoQueue(mock, "outreach-queue", logging.Default())
	items, err := q.PendingBatch(context.Background(), "user-1", ChannelSMS, 0, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, mock.queryInputs)
}

func TestDynamoQueue_MarkSentGuardsTouchCount(t *testing.T) {
	mock := &mockDynamo{}
	q := NewDynamoQueue(mock, "outreach-queue", logging.Default())
	sentAt := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

	require.NoError(t, q.MarkSent(context.Background(), "c#SMS", 3, sentAt))
	require.Len(t, mock.updateInputs, 1)
	in := mock.updateInputs[0]
	assert.Contains(t, *in.ConditionExpression, "touchCount < :tc")
	assert.Contains(t, *in.ConditionExpression, "NOT (#status IN (:optedOut, :completed))")
	assert.Equal(t, "3", in.ExpressionAttributeValues[":tc"].(*types.AttributeValueMemberN).Value)
	assert.Contains(t, *in.UpdateExpression, "lastSentAtMs = :sentMs")
	assert.Equal(t, strconv.FormatInt(sentAt.UnixMilli(), 10), in.ExpressionAttributeValues[":sentMs"].(*types.AttributeValueMemberN).Value)
}

func TestDynamoQueue_MarkStatusConditionFailure(t *testing.T) {
	mock := &mockDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	q := NewDynamoQueue(mock, "outreach-queue", logging.Default())

	err := q.MarkStatus(context.Background(), "c#SMS", StatusFailed)
	assert.ErrorIs(t, err, ErrStaleUpdate)

	in := mock.updateInputs[0]
	assert.True(t, strings.Contains(*in.ConditionExpression, "OR #status = :status"))
}

func TestDynamoQueue_MarkStatusWrapsOtherErrors(t *testing.T) {
	mock := &mockDynamo{updateErr: errors.New("throttled")}
	q := NewDynamoQueue(mock, "outreach-queue", logging.Default())
	err := q.MarkStatus(context.Background(), "c#SMS", StatusReplied)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStaleUpdate)
}

func TestDynamoQueue_ByContactSkipsMissingChannels(t *testing.T) {
	sms := marshalItems(t, QueueItem{ID: "c#SMS", ContactID: "c", Channel: ChannelSMS, Status: StatusPending})[0]
	mock := &mockDynamo{getItems: map[string]map[string]types.AttributeValue{"c#SMS": sms}}
	q := NewDynamoQueue(mock, "outreach-queue", logging.Default())

	items, err := q.ByContact(context.Background(), "c")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, ChannelSMS, items[0].Channel)

	_, err = q.Get(context.Background(), "c#EMAIL")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestDynamoQueue_ByLeadUsesIndex(t *testing.T) {
	mock := &mockDynamo{queryPages: []*dynamodb.QueryOutput{{Items: marshalItems(t,
		QueueItem{ID: "a#SMS", ContactID: "a", LeadID: "lead-1"},
		QueueItem{ID: "b#SMS", ContactID: "b", LeadID: "lead-1"},
	)}}}
	q := NewDynamoQueue(mock, "outreach-queue", logging.Default())

	items, err := q.ByLead(context.Background(), "user-1", "lead-1")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, LeadIndex, *mock.queryInputs[0].IndexName)
	assert.Equal(t, "leadId", mock.queryInputs[0].ExpressionAttributeNames["#k"])

	none, err := q.ByLead(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDynamoQueue_ByNamePrefixQueriesEveryChannel(t *testing.T) {
	mock := &mockDynamo{}
	q := NewDynamoQueue(mock, "outreach-queue", logging.Default())
	_, err := q.ByNamePrefix(context.Background(), "user-1", "john smith")
	require.NoError(t, err)
	require.Len(t, mock.queryInputs, len(Channels))
	assert.Equal(t, "begins_with(nameKey, :prefix)", *mock.queryInputs[0].FilterExpression)
}
