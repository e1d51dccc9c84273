package store

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB schema constants for single-table design
const (
	// Table attributes
	AttrPK         = "PK"
	AttrSK         = "SK"
	AttrGSI1PK     = "GSI1PK"
	AttrGSI1SK     = "GSI1SK"
	AttrGSI2PK     = "GSI2PK"
	AttrGSI2SK     = "GSI2SK"
	AttrEntityType = "entity_type"

	// Instance attributes referenced in expressions
	AttrStatus  = "status"
	AttrVersion = "version"

	// Entity types
	EntityTypeInstance = "Instance"

	// Index names
	IndexDefinitionStatus = "GSI1"
	IndexStatus           = "GSI2"
)

// sortKeyLayout is fixed width so lexical order matches time order
const sortKeyLayout = "2006-01-02T15:04:05.000000000Z"

// Key builders for single-table design

// Instance keys: PK=INSTANCE#{id}, SK=META
func instancePK(id string) string {
	return fmt.Sprintf("INSTANCE#%s", id)
}

func instanceSK() string {
	return "META"
}

// GSI1 partitions by definition and status: DEF#{name}#STATUS#{status}
func instanceGSI1PK(definitionName, status string) string {
	return fmt.Sprintf("DEF#%s#STATUS#%s", definitionName, status)
}

// GSI2 partitions by status alone for cross-definition scans: STATUS#{status}
func instanceGSI2PK(status string) string {
	return fmt.Sprintf("STATUS#%s", status)
}

// Both indexes sort by last update so stale instances are a range query
func instanceUpdatedSK(updatedAt time.Time) string {
	return updatedAt.UTC().Format(sortKeyLayout)
}

// CreateTableInput describes the table layout the DynamoDBStore expects
func CreateTableInput(tableName string) *dynamodb.CreateTableInput {
	index := func(name, pk, sk string) types.GlobalSecondaryIndex {
		return types.GlobalSecondaryIndex{
			IndexName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(pk), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(sk), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}
	}

	return &dynamodb.CreateTableInput{
		TableName: aws.String(tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(AttrPK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(AttrSK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(AttrGSI1PK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(AttrGSI1SK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(AttrGSI2PK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(AttrGSI2SK), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(AttrPK), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(AttrSK), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			index(IndexDefinitionStatus, AttrGSI1PK, AttrGSI1SK),
			index(IndexStatus, AttrGSI2PK, AttrGSI2SK),
		},
		BillingMode: types.BillingModePayPerRequest,
	}
}
