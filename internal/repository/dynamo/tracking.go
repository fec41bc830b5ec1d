// Package dynamo stores tracking documents in a DynamoDB single table keyed
// by PK/SK, one item per tracking key.
package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ignite/pixel-tracker/internal/domain"
	"github.com/ignite/pixel-tracker/internal/service/tracking"
)

const (
	pkPrefix = "TRACKING#"
	sortKey  = "OPENS"
)

// API is the subset of *dynamodb.Client the repository uses.
type API interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// documentItem is the stored shape of a tracking document.
type documentItem struct {
	PK        string     `dynamodbav:"PK"`
	SK        string     `dynamodbav:"SK"`
	Key       string     `dynamodbav:"key"`
	OpenCount int        `dynamodbav:"openCount,omitempty"`
	Opens     []openItem `dynamodbav:"opens"`
	UpdatedAt string     `dynamodbav:"updatedAt,omitempty"`
}

// openItem stores timestamps as RFC3339Nano strings so they sort and read
// back without a custom marshaler.
type openItem struct {
	ID          string  `dynamodbav:"id,omitempty"`
	Time        string  `dynamodbav:"time"`
	UserAgent   string  `dynamodbav:"userAgent"`
	EmailClient string  `dynamodbav:"emailClient"`
	Section     *string `dynamodbav:"section,omitempty"`
	ClientTs    string  `dynamodbav:"clientTs,omitempty"`
	ClientTime  string  `dynamodbav:"clientTime,omitempty"`
	IPAddress   string  `dynamodbav:"ip,omitempty"`
}

// TrackingRepo implements tracking.Repository against DynamoDB.
type TrackingRepo struct {
	client    API
	tableName string
	now       func() time.Time
}

// NewTrackingRepo creates a DynamoDB-backed tracking repository.
func NewTrackingRepo(client API, tableName string) *TrackingRepo {
	return &TrackingRepo{client: client, tableName: tableName, now: time.Now}
}

func itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefix + key},
		"SK": &types.AttributeValueMemberS{Value: sortKey},
	}
}

// AppendOpen issues a single UpdateItem. if_not_exists seeds the list on
// the first open, so the item is created and appended atomically.
func (r *TrackingRepo) AppendOpen(ctx context.Context, key string, ev domain.OpenEvent) error {
	av, err := attributevalue.MarshalMap(toOpenItem(ev))
	if err != nil {
		return fmt.Errorf("marshaling open event: %w", err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              itemKey(key),
		UpdateExpression: aws.String("SET #opens = list_append(if_not_exists(#opens, :empty), :ev), #key = :key, #updated = :now"),
		ExpressionAttributeNames: map[string]string{
			"#opens":   "opens",
			"#key":     "key",
			"#updated": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":ev":    &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberM{Value: av}}},
			":key":   &types.AttributeValueMemberS{Value: key},
			":now":   &types.AttributeValueMemberS{Value: r.now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("appending open to DynamoDB: %w", err)
	}
	return nil
}

// Get reads the item with a strongly consistent read so an open recorded
// by this process is visible to the next stats request.
func (r *TrackingRepo) Get(ctx context.Context, key string) (*domain.TrackingDocument, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting item from DynamoDB: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, tracking.ErrNotFound
	}

	var item documentItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling tracking item: %w", err)
	}

	doc := &domain.TrackingDocument{
		Key:       key,
		OpenCount: item.OpenCount,
		Opens:     make([]domain.OpenEvent, 0, len(item.Opens)),
	}
	for _, oi := range item.Opens {
		doc.Opens = append(doc.Opens, fromOpenItem(oi))
	}
	return doc, nil
}

func toOpenItem(ev domain.OpenEvent) openItem {
	return openItem{
		ID:          ev.ID,
		Time:        ev.Time.UTC().Format(time.RFC3339Nano),
		UserAgent:   ev.UserAgent,
		EmailClient: string(ev.EmailClient),
		Section:     ev.Section,
		ClientTs:    formatOptional(ev.ClientTs),
		ClientTime:  formatOptional(ev.ClientTime),
		IPAddress:   ev.IPAddress,
	}
}

func fromOpenItem(oi openItem) domain.OpenEvent {
	ev := domain.OpenEvent{
		ID:          oi.ID,
		UserAgent:   oi.UserAgent,
		EmailClient: domain.ClientKind(oi.EmailClient),
		Section:     oi.Section,
		ClientTs:    parseOptional(oi.ClientTs),
		ClientTime:  parseOptional(oi.ClientTime),
		IPAddress:   oi.IPAddress,
	}
	if t, err := time.Parse(time.RFC3339Nano, oi.Time); err == nil {
		ev.Time = t.UTC()
	}
	return ev
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseOptional(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
