package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/waitflow"
)

var allStatuses = []waitflow.Status{
	waitflow.StatusCreated,
	waitflow.StatusRunning,
	waitflow.StatusWaiting,
	waitflow.StatusCompleted,
	waitflow.StatusFailed,
}

// DynamoDBStore implements waitflow.InstanceStore using AWS DynamoDB.
// Every instance is one item; writes are conditional on status and version.
type DynamoDBStore struct {
	client    DynamoDBClient
	tableName string
}

// NewDynamoDBStore creates a new DynamoDB-backed instance store
func NewDynamoDBStore(client DynamoDBClient, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
	}
}

var _ waitflow.InstanceStore = (*DynamoDBStore)(nil)

// EnsureTable creates the table when it does not exist and waits for it to
// become active
func EnsureTable(ctx context.Context, client TableCreator, tableName string, maxWait time.Duration) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)})
	if err == nil {
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe table %s: %w", tableName, err)
	}

	if _, err := client.CreateTable(ctx, CreateTableInput(tableName)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}, maxWait)
}

func (s *DynamoDBStore) marshalInstance(inst *waitflow.Instance) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal instance: %w", err)
	}

	// Add keys
	item[AttrPK] = &types.AttributeValueMemberS{Value: instancePK(inst.ID)}
	item[AttrSK] = &types.AttributeValueMemberS{Value: instanceSK()}
	item[AttrEntityType] = &types.AttributeValueMemberS{Value: EntityTypeInstance}

	// GSI keys follow the status, so they move on every transition
	updated := instanceUpdatedSK(inst.UpdatedAt)
	item[AttrGSI1PK] = &types.AttributeValueMemberS{Value: instanceGSI1PK(inst.DefinitionName, string(inst.Status))}
	item[AttrGSI1SK] = &types.AttributeValueMemberS{Value: updated}
	item[AttrGSI2PK] = &types.AttributeValueMemberS{Value: instanceGSI2PK(string(inst.Status))}
	item[AttrGSI2SK] = &types.AttributeValueMemberS{Value: updated}

	return item, nil
}

func (s *DynamoDBStore) Insert(ctx context.Context, inst *waitflow.Instance) error {
	if inst.Version == 0 {
		inst.Version = 1
	}

	item, err := s.marshalInstance(inst)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{
			"#pk": AttrPK,
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return waitflow.ExistsError(inst.ID)
		}
		return fmt.Errorf("failed to insert instance: %w", err)
	}

	return nil
}

func (s *DynamoDBStore) GetByID(ctx context.Context, id string) (*waitflow.Instance, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: instancePK(id)},
			AttrSK: &types.AttributeValueMemberS{Value: instanceSK()},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	if result.Item == nil {
		return nil, waitflow.NotFoundError(id)
	}

	var inst waitflow.Instance
	if err := attributevalue.UnmarshalMap(result.Item, &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}

	return &inst, nil
}

func (s *DynamoDBStore) Update(ctx context.Context, inst *waitflow.Instance, cond waitflow.UpdateCondition) error {
	next := inst.Clone()
	next.Version = cond.Version + 1
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}

	item, err := s.marshalInstance(next)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(#pk) AND #st = :status AND #ver = :version"),
		ExpressionAttributeNames: map[string]string{
			"#pk":  AttrPK,
			"#st":  AttrStatus,
			"#ver": AttrVersion,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(cond.Status)},
			":version": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", cond.Version)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("update instance %s: expected %s/v%d: %w",
				inst.ID, cond.Status, cond.Version, waitflow.ErrConditionFailed)
		}
		return fmt.Errorf("failed to update instance: %w", err)
	}

	inst.Version = next.Version
	inst.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *DynamoDBStore) Query(ctx context.Context, filter waitflow.InstanceFilter) ([]*waitflow.Instance, error) {
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = allStatuses
	}

	var out []*waitflow.Instance
	for _, status := range statuses {
		input := s.statusQuery(filter.DefinitionName, status, filter.UpdatedBefore)

		err := s.paginate(ctx, input, func(page *dynamodb.QueryOutput) error {
			for _, item := range page.Items {
				var inst waitflow.Instance
				if err := attributevalue.UnmarshalMap(item, &inst); err != nil {
					return fmt.Errorf("failed to unmarshal instance: %w", err)
				}
				if filter.Matches(&inst) {
					out = append(out, &inst)
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query instances: %w", err)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

func (s *DynamoDBStore) Count(ctx context.Context, definitionName string, statuses ...waitflow.Status) (int, error) {
	if len(statuses) == 0 {
		statuses = allStatuses
	}

	total := 0
	for _, status := range statuses {
		input := s.statusQuery(definitionName, status, time.Time{})
		input.Select = types.SelectCount

		err := s.paginate(ctx, input, func(page *dynamodb.QueryOutput) error {
			total += int(page.Count)
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("failed to count instances: %w", err)
		}
	}

	return total, nil
}

// Delete removes an instance item
func (s *DynamoDBStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: instancePK(id)},
			AttrSK: &types.AttributeValueMemberS{Value: instanceSK()},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}

	return nil
}

// statusQuery picks GSI1 when a definition is given and GSI2 otherwise
func (s *DynamoDBStore) statusQuery(definitionName string, status waitflow.Status, updatedBefore time.Time) *dynamodb.QueryInput {
	index, pkAttr, skAttr := IndexStatus, AttrGSI2PK, AttrGSI2SK
	pk := instanceGSI2PK(string(status))
	if definitionName != "" {
		index, pkAttr, skAttr = IndexDefinitionStatus, AttrGSI1PK, AttrGSI1SK
		pk = instanceGSI1PK(definitionName, string(status))
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": pkAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	}

	if !updatedBefore.IsZero() {
		input.KeyConditionExpression = aws.String("#pk = :pk AND #sk < :cutoff")
		input.ExpressionAttributeNames["#sk"] = skAttr
		input.ExpressionAttributeValues[":cutoff"] = &types.AttributeValueMemberS{Value: instanceUpdatedSK(updatedBefore)}
	}

	return input
}

// paginate runs the query until LastEvaluatedKey is exhausted
func (s *DynamoDBStore) paginate(ctx context.Context, input *dynamodb.QueryInput, fn func(*dynamodb.QueryOutput) error) error {
	var lastEvaluatedKey map[string]types.AttributeValue

	for {
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := s.client.Query(ctx, input)
		if err != nil {
			return err
		}

		if err := fn(result); err != nil {
			return err
		}

		// Check if there are more results
		if result.LastEvaluatedKey == nil {
			return nil
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}
}
