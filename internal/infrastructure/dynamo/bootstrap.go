package dynamo

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-registration-api/internal/domain"
	"go.uber.org/zap"
)

// Bootstrap creates the registrations table and its GSIs if they don't already exist.
// Safe to call on every startup; existing tables are skipped.
func Bootstrap(ctx context.Context, client *dynamodb.Client, table string, logger *zap.Logger) error {
	return createTable(ctx, client, logger, tableInput(table))
}

func tableInput(table string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(domain.FieldContactKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(domain.FieldUserID), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(domain.FieldContactPlain), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(domain.FieldContactKey), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			gsi(userIDIndex, domain.FieldUserID),
			gsi(contactPlainIndex, domain.FieldContactPlain),
		},
	}
}

// gsi builds a hash-only GSI projecting every attribute.
func gsi(indexName, hashKey string) types.GlobalSecondaryIndex {
	return types.GlobalSecondaryIndex{
		IndexName: aws.String(indexName),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(hashKey), KeyType: types.KeyTypeHash},
		},
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

func createTable(ctx context.Context, client *dynamodb.Client, logger *zap.Logger, input *dynamodb.CreateTableInput) error {
	_, err := client.CreateTable(ctx, input)
	if err == nil {
		logger.Info("created table", zap.String("table", *input.TableName))
		return nil
	}
	// ResourceInUseException means the table already exists.
	var riue *types.ResourceInUseException
	if errors.As(err, &riue) {
		return nil
	}
	logger.Warn("could not create table", zap.String("table", *input.TableName), zap.Error(err))
	return err
}
