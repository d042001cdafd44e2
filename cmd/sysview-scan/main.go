// Package main implements sysview-scan, a client that dumps the virtual
// schema tables of a sysview or Alternator endpoint as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/sysview/sysview/internal/namespace"
)

// Options holds the command line options.
type Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
	Table     string
	Keyspace  string
	PageSize  int
	List      bool
	Timeout   time.Duration
}

func main() {
	opts := parseFlags()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	client, err := newClient(ctx, opts)
	if err != nil {
		fatalf("failed to create client: %v", err)
	}

	if opts.List {
		if err := listTables(ctx, client); err != nil {
			fatalf("ListTables failed: %v", err)
		}
		return
	}

	if err := dump(ctx, client, opts.Prefix+opts.Table, opts); err != nil {
		fatalf("%s: %v", opts.Table, err)
	}
}

func parseFlags() Options {
	var opts Options
	flag.StringVar(&opts.Endpoint, "endpoint", "http://localhost:8000", "DynamoDB API endpoint")
	flag.StringVar(&opts.Region, "region", "us-east-1", "Signing region")
	flag.StringVar(&opts.AccessKey, "access-key", "admin", "Access key id")
	flag.StringVar(&opts.SecretKey, "secret-key", "secret", "Secret access key")
	flag.StringVar(&opts.Prefix, "prefix", namespace.DefaultPrefix, "Reserved table name prefix")
	flag.StringVar(&opts.Table, "table", "system_schema.tables", "Virtual table to read, without the prefix")
	flag.StringVar(&opts.Keyspace, "keyspace", "", "Restrict the read to one keyspace with a Query")
	flag.IntVar(&opts.PageSize, "page-size", 100, "Items per request")
	flag.BoolVar(&opts.List, "list", false, "List the visible tables instead of reading one")
	flag.DurationVar(&opts.Timeout, "timeout", time.Minute, "Overall timeout")
	flag.Parse()

	if opts.PageSize < 1 {
		fatalf("page-size must be positive")
	}
	return opts
}

func newClient(ctx context.Context, opts Options) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
	)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
	}), nil
}

func listTables(ctx context.Context, client *dynamodb.Client) error {
	enc := json.NewEncoder(os.Stdout)
	p := dynamodb.NewListTablesPaginator(client, &dynamodb.ListTablesInput{})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, name := range out.TableNames {
			if err := enc.Encode(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// dump writes every item of the table to stdout, one JSON object per line.
func dump(ctx context.Context, client *dynamodb.Client, table string, opts Options) error {
	enc := json.NewEncoder(os.Stdout)
	emit := func(items []map[string]types.AttributeValue) error {
		var rows []map[string]interface{}
		if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
			return fmt.Errorf("failed to decode items: %w", err)
		}
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		return nil
	}

	if opts.Keyspace != "" {
		p := dynamodb.NewQueryPaginator(client, &dynamodb.QueryInput{
			TableName:              aws.String(table),
			KeyConditionExpression: aws.String("keyspace_name = :ks"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ks": &types.AttributeValueMemberS{Value: opts.Keyspace},
			},
			Limit: aws.Int32(int32(opts.PageSize)),
		})
		for p.HasMorePages() {
			out, err := p.NextPage(ctx)
			if err != nil {
				return err
			}
			if err := emit(out.Items); err != nil {
				return err
			}
		}
		return nil
	}

	p := dynamodb.NewScanPaginator(client, &dynamodb.ScanInput{
		TableName: aws.String(table),
		Limit:     aws.Int32(int32(opts.PageSize)),
	})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		if err := emit(out.Items); err != nil {
			return err
		}
	}
	return nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "sysview-scan: "+format+"\n", args...)
	os.Exit(1)
}
