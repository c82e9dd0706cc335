package requestlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrNotFound is returned by Get when request_id has no row (spec §7:
// REQUEST_NOT_FOUND).
var ErrNotFound = errors.New("requestlog: request not found")

// ErrConditionFailed is returned by UpdateStatus when the conditional
// compare-and-set did not match the expected prior status (spec §4.1).
var ErrConditionFailed = errors.New("requestlog: conditional update failed")

// dynamoAPI is the subset of *dynamodb.Client this package calls, so tests
// can substitute an in-memory fake instead of a real client.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store is the DynamoDB-backed implementation of C1's contract (spec
// §4.1, §6): conditional updates, a secondary index on status, and
// (via Streamer) a change stream.
type Store struct {
	db        dynamoAPI
	tableName string
	statusGSI string
}

// NewStore builds a Store over an existing *dynamodb.Client.
func NewStore(db dynamoAPI, tableName string) *Store {
	return &Store{db: db, tableName: tableName, statusGSI: "status-index"}
}

// Put appends a new request and guarantees durability before
// acknowledgement (DynamoDB's synchronous PutItem already does this; the
// condition expression additionally rejects a duplicate request_id).
func (s *Store) Put(ctx context.Context, req *Request) error {
	item, err := attributevalue.MarshalMap(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: strPtr("attribute_not_exists(request_id)"),
	})
	if err != nil {
		return fmt.Errorf("put request: %w", err)
	}
	return nil
}

// Get fetches a request by id. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, requestID string) (*Request, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"request_id": &types.AttributeValueMemberS{Value: requestID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var req Request
	if err := attributevalue.UnmarshalMap(out.Item, &req); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	return &req, nil
}

// UpdateStatus performs the conditional compare-and-set described in spec
// §4.1: the update only applies if the stored status is still `from`, or
// — to make a re-issued update of the same transition idempotent at the
// application layer (spec §4.1 "Failure semantics") — if the stored
// status already equals `to`. Any other observed status fails the CAS
// with ErrConditionFailed, which callers treat as "someone else already
// moved this request" (spec §5, duplicate-delivery serialization).
//
// A terminal `from` is rejected by ValidTransition before any network
// call, enforcing invariant I1 (a terminal request is never mutated) even
// against an application bug that tries to re-drive it.
func (s *Store) UpdateStatus(ctx context.Context, requestID string, from, to Status, upd *StatusUpdate) error {
	if from.Terminal() || (from != to && !ValidTransition(from, to)) {
		return fmt.Errorf("%w: %s -> %s is not a legal transition", ErrConditionFailed, from, to)
	}

	now := time.Now().UTC()
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{
		":from":      &types.AttributeValueMemberS{Value: string(from)},
		":to":        &types.AttributeValueMemberS{Value: string(to)},
		":updatedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}
	update := "SET #status = :to, updated_at = :updatedAt"

	if upd != nil {
		if upd.ErrorMessage != "" {
			update += ", error_message = :errorMessage"
			values[":errorMessage"] = &types.AttributeValueMemberS{Value: upd.ErrorMessage}
		}
		if upd.AuditLog != "" {
			update += ", audit_log = :auditLog"
			values[":auditLog"] = &types.AttributeValueMemberS{Value: upd.AuditLog}
		}
		if upd.CompletedAt != nil {
			update += ", completed_at = :completedAt"
			values[":completedAt"] = &types.AttributeValueMemberS{Value: upd.CompletedAt.Format(time.RFC3339Nano)}
		}
	}

	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      map[string]types.AttributeValue{"request_id": &types.AttributeValueMemberS{Value: requestID}},
		UpdateExpression:         &update,
		ConditionExpression:      strPtr("#status = :from OR #status = :to"),
		ExpressionAttributeNames: names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConditionFailed
		}
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// QueryByStatus enumerates every request in the given status via the
// status secondary index (spec §3, §4.1 "bulk operational queries").
func (s *Store) QueryByStatus(ctx context.Context, status Status) ([]*Request, error) {
	var results []*Request
	var exclusiveStart map[string]types.AttributeValue

	for {
		out, err := s.db.Query(ctx, &dynamodb.QueryInput{
			TableName:              &s.tableName,
			IndexName:               &s.statusGSI,
			KeyConditionExpression:  strPtr("#status = :status"),
			ExpressionAttributeNames: map[string]string{"#status": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status": &types.AttributeValueMemberS{Value: string(status)},
			},
			ExclusiveStartKey: exclusiveStart,
		})
		if err != nil {
			return nil, fmt.Errorf("query by status: %w", err)
		}
		for _, item := range out.Items {
			var req Request
			if err := attributevalue.UnmarshalMap(item, &req); err != nil {
				return nil, fmt.Errorf("unmarshal request: %w", err)
			}
			results = append(results, &req)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		exclusiveStart = out.LastEvaluatedKey
	}
	return results, nil
}

func strPtr(s string) *string { return &s }
