package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-registration-api/internal/domain"
)

const (
	userIDIndex       = "user_id-index"
	contactPlainIndex = "contact_plain-index"
)

// RegistrationRepo provides typed DynamoDB operations for the registrations table.
// Every mutation is a single conditional write; there are no read-modify-write cycles.
type RegistrationRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewRegistrationRepo(client *dynamodb.Client, tableName string) *RegistrationRepo {
	return &RegistrationRepo{client: client, tableName: tableName}
}

// Create inserts r unless a record with the same contact key exists (ErrConflict).
func (r *RegistrationRepo) Create(ctx context.Context, reg *domain.Registration) error {
	item, err := attributevalue.MarshalMap(reg)
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": domain.FieldContactKey},
	})
	return mapConditionErr(err, "registration already exists")
}

func (r *RegistrationRepo) Get(ctx context.Context, contactKey string) (*domain.Registration, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(domain.FieldContactKey, contactKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("registration not found: %w", domain.ErrNotFound)
	}
	var reg domain.Registration
	if err := attributevalue.UnmarshalMap(out.Item, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// FindByPlain looks a record up by its raw normalized contact, for records
// written before contact keys were hashed.
func (r *RegistrationRepo) FindByPlain(ctx context.Context, channel domain.Channel, plain string) (*domain.Registration, error) {
	reg, err := r.queryGSI(ctx, contactPlainIndex, domain.FieldContactPlain, plain)
	if err != nil {
		return nil, err
	}
	if reg.Channel != channel {
		return nil, fmt.Errorf("registration not found: %w", domain.ErrNotFound)
	}
	return reg, nil
}

func (r *RegistrationRepo) FindByUserID(ctx context.Context, userID string) (*domain.Registration, error) {
	reg, err := r.queryGSI(ctx, userIDIndex, domain.FieldUserID, userID)
	if err != nil {
		return nil, err
	}
	// GSI reads are eventually consistent; re-read the item itself.
	return r.Get(ctx, reg.ContactKey)
}

// Update applies u atomically. A failed condition (including a missing record)
// is reported as ErrConflict.
func (r *RegistrationRepo) Update(ctx context.Context, contactKey string, u domain.Update) error {
	if u.Set == nil {
		u.Set = map[string]interface{}{}
	}
	u.Set[domain.FieldUpdatedAt] = time.Now().UTC()
	ue, err := buildUpdate(u, domain.FieldContactKey)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(domain.FieldContactKey, contactKey),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String(ue.Condition),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	return mapConditionErr(err, "registration changed concurrently")
}

// Delete permanently removes a record. Only the test-data purge path uses it.
func (r *RegistrationRepo) Delete(ctx context.Context, contactKey string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(domain.FieldContactKey, contactKey),
	})
	return err
}

func (r *RegistrationRepo) queryGSI(ctx context.Context, index, attr, value string) (*domain.Registration, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String("#a = :v"),
		ExpressionAttributeNames:  map[string]string{"#a": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: value}},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("registration not found: %w", domain.ErrNotFound)
	}
	var reg domain.Registration
	if err := attributevalue.UnmarshalMap(out.Items[0], &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

func mapConditionErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%s: %w", msg, domain.ErrConflict)
	}
	return err
}
