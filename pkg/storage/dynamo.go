// DynamoDB backend. Quizzes are stored as plain documents; collections are read with a paginated Scan in the
// single-tenant table and a paginated Query on the owner's partition in the multi-tenant table.

package storage

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	dynamoTable    = flag.String("dynamo_table", "", "DynamoDB table name; empty picks the tenancy's default table.")
	dynamoEndpoint = flag.String("dynamo_endpoint", "",
		"Overrides the DynamoDB endpoint, e.g. http://localhost:8000 for DynamoDB Local.")
	awsRegion          = flag.String("aws_region", "", "AWS region of the DynamoDB table.")
	awsAccessKeyID     = flag.String("aws_access_key_id", "", "Static AWS access key id; empty uses the default chain.")
	awsSecretAccessKey = flag.String("aws_secret_access_key", "", "Static AWS secret access key.")
)

// dynamoAPI is the subset of the DynamoDB client the backend calls.
type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (
		*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (
		*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (
		*dynamodb.DeleteItemOutput, error)
	dynamodb.ScanAPIClient
	dynamodb.QueryAPIClient
}

var _ dynamoAPI = (*dynamodb.Client)(nil)

// NewDynamoClient builds a DynamoDB client from flags and the default AWS configuration chain.
func NewDynamoClient(ctx context.Context) (*dynamodb.Client, error) {
	var options []func(*awsconfig.LoadOptions) error
	if *awsRegion != "" {
		options = append(options, awsconfig.WithRegion(*awsRegion))
	}
	if *awsAccessKeyID != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(*awsAccessKeyID, *awsSecretAccessKey, "" /*session*/)))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if *dynamoEndpoint != "" {
			o.BaseEndpoint = aws.String(*dynamoEndpoint)
		}
	}), nil
}

// DynamoBackend stores quizzes in one DynamoDB table.
type DynamoBackend struct { // Implements Backend.
	client dynamoAPI
	schema Schema
}

var _ Backend = (*DynamoBackend)(nil)

// NewDynamoBackend is the constructor for DynamoBackend.
func NewDynamoBackend(client dynamoAPI, schema Schema) *DynamoBackend {
	return &DynamoBackend{client: client, schema: schema}
}

// keyAttributes marshals the primary key of `key`.
func (d *DynamoBackend) keyAttributes(key Key) (map[string]types.AttributeValue, error) {
	attributes, err := attributevalue.MarshalMap(d.schema.KeyDocument(key))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key %s: %w", key, err)
	}
	return attributes, nil
}

// decodeItems turns a page of items into quizzes, skipping items that aren't valid quiz documents.
func (d *DynamoBackend) decodeItems(items []map[string]types.AttributeValue, quizzes []Quiz) []Quiz {
	for _, item := range items {
		var doc map[string]any
		if err := attributevalue.UnmarshalMap(item, &doc); err != nil {
			slog.Warn("Skipping undecodable quiz item.", "table", d.schema.Table, "error", err)
			continue
		}
		quiz, err := d.schema.FromDocument(doc)
		if err != nil {
			slog.Warn("Skipping malformed quiz item.", "table", d.schema.Table, "error", err)
			continue
		}
		quizzes = append(quizzes, quiz)
	}
	return quizzes
}

func (d *DynamoBackend) FetchOne(ctx context.Context, key Key) (Quiz, error) {
	keyAttributes, err := d.keyAttributes(key)
	if err != nil {
		return Quiz{}, err
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String(d.schema.Table), Key: keyAttributes})
	if err != nil {
		return Quiz{}, fmt.Errorf("failed to get quiz %s: %w", key, err)
	}
	if len(out.Item) == 0 {
		return Quiz{}, fmt.Errorf("%w: %s", ErrQuizNotFound, key)
	}
	var doc map[string]any
	if err := attributevalue.UnmarshalMap(out.Item, &doc); err != nil {
		return Quiz{}, fmt.Errorf("failed to unmarshal quiz %s: %w", key, err)
	}
	return d.schema.FromDocument(doc)
}

func (d *DynamoBackend) FetchCollection(ctx context.Context, owner string) ([]Quiz, error) {
	quizzes := make([]Quiz, 0)
	if d.schema.SortKey == "" { // Single-tenant tables are scanned whole.
		paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{TableName: aws.String(d.schema.Table)})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to scan %s: %w", d.schema.Table, err)
			}
			quizzes = d.decodeItems(page.Items, quizzes)
		}
		return quizzes, nil
	}

	if owner == "" {
		return nil, errors.New("owner is required to list quizzes of a multi-tenant table")
	}
	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:                 aws.String(d.schema.Table),
		KeyConditionExpression:    aws.String("#owner = :owner"),
		ExpressionAttributeNames:  map[string]string{"#owner": d.schema.PartitionKey},
		ExpressionAttributeValues: map[string]types.AttributeValue{":owner": &types.AttributeValueMemberS{Value: owner}},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query quizzes of %s: %w", owner, err)
		}
		quizzes = d.decodeItems(page.Items, quizzes)
	}
	return quizzes, nil
}

func (d *DynamoBackend) Put(ctx context.Context, quiz Quiz) error {
	item, err := attributevalue.MarshalMap(d.schema.Document(quiz))
	if err != nil {
		return fmt.Errorf("failed to marshal quiz %s: %w", quiz.Key, err)
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(d.schema.Table), Item: item}); err != nil {
		return fmt.Errorf("failed to put quiz %s: %w", quiz.Key, err)
	}
	return nil
}

func (d *DynamoBackend) Delete(ctx context.Context, key Key) error {
	keyAttributes, err := d.keyAttributes(key)
	if err != nil {
		return err
	}
	_, err = d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String(d.schema.Table), Key: keyAttributes})
	if err != nil {
		return fmt.Errorf("failed to delete quiz %s: %w", key, err)
	}
	return nil
}
