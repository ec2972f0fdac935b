// Package simpledb is an attribute store adapter for Amazon SimpleDB.
package simpledb

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	sdb "github.com/aws/aws-sdk-go/service/simpledb"
	"github.com/aws/aws-sdk-go/service/simpledb/simpledbiface"
	"github.com/janrain/backplane/server/db/common"
	"github.com/janrain/backplane/server/store"
	t "github.com/janrain/backplane/server/store/types"
)

const (
	adapterName = "simpledb"

	defaultRegion = "us-east-1"

	// SimpleDB limits.
	batchDeleteLimit = 25
	maxSelectLimit   = 2500
	maxListDomains   = 100

	errConditionalCheckFailed = "ConditionalCheckFailed"
	errAttributeDoesNotExist  = "AttributeDoesNotExist"
)

type configType struct {
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	// Static credentials. When empty, the default AWS credential chain
	// (environment, shared config, instance role) is used.
	AccessKeyId     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	DisableSSL      bool   `json:"disable_ssl,omitempty"`
}

// adapter holds the SimpleDB client.
type adapter struct {
	svc        simpledbiface.SimpleDBAPI
	maxResults int
}

// Open creates the SimpleDB client.
func (a *adapter) Open(_ context.Context, jsonconfig json.RawMessage) error {
	if a.svc != nil {
		return errors.New("adapter simpledb is already connected")
	}

	var config configType
	if len(jsonconfig) > 0 {
		if err := json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("adapter simpledb failed to parse config: " + err.Error())
		}
	}
	if config.Region == "" {
		config.Region = defaultRegion
	}

	awsConf := &aws.Config{
		Region:     aws.String(config.Region),
		DisableSSL: aws.Bool(config.DisableSSL),
	}
	if config.Endpoint != "" {
		awsConf.Endpoint = aws.String(config.Endpoint)
	}
	if config.AccessKeyId != "" {
		awsConf.Credentials = credentials.NewStaticCredentials(config.AccessKeyId, config.SecretAccessKey, "")
	}
	sess, err := session.NewSession(awsConf)
	if err != nil {
		return err
	}
	a.svc = sdb.New(sess)
	return nil
}

// Close the adapter.
func (a *adapter) Close() error {
	a.svc = nil
	return nil
}

// IsOpen checks if the adapter is ready for use.
func (a *adapter) IsOpen() bool {
	return a.svc != nil
}

// GetName returns string that adapter uses to register itself with store.
func (a *adapter) GetName() string {
	return adapterName
}

// SetMaxResults configures how many results can be returned in a single select.
func (a *adapter) SetMaxResults(val int) error {
	if val <= 0 {
		val = common.DefaultMaxResults
	}
	a.maxResults = min(val, maxSelectLimit)
	return nil
}

func (a *adapter) limit() int {
	if a.maxResults <= 0 {
		return common.DefaultMaxResults
	}
	return a.maxResults
}

func nextToken(token string) *string {
	if token == "" {
		return nil
	}
	return aws.String(token)
}

// isConditionFailed checks if the error is a failed update condition.
func isConditionFailed(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case errConditionalCheckFailed, errAttributeDoesNotExist:
			return true
		}
	}
	return false
}

func expected(cond *t.Condition) *sdb.UpdateCondition {
	if cond == nil {
		return nil
	}
	if !cond.Exists {
		return &sdb.UpdateCondition{Name: aws.String(cond.Name), Exists: aws.Bool(false)}
	}
	return &sdb.UpdateCondition{Name: aws.String(cond.Name), Value: aws.String(cond.Value), Exists: aws.Bool(true)}
}

// CreateTable creates a domain. SimpleDB treats creating an existing domain as a no-op.
func (a *adapter) CreateTable(ctx context.Context, name string) error {
	_, err := a.svc.CreateDomainWithContext(ctx, &sdb.CreateDomainInput{DomainName: aws.String(name)})
	return err
}

// ListTables lists one page of domains.
func (a *adapter) ListTables(ctx context.Context, token string) ([]string, string, error) {
	out, err := a.svc.ListDomainsWithContext(ctx, &sdb.ListDomainsInput{
		MaxNumberOfDomains: aws.Int64(maxListDomains),
		NextToken:          nextToken(token),
	})
	if err != nil {
		return nil, "", err
	}
	return aws.StringValueSlice(out.DomainNames), aws.StringValue(out.NextToken), nil
}

// DeleteTable deletes a domain.
func (a *adapter) DeleteTable(ctx context.Context, name string) error {
	_, err := a.svc.DeleteDomainWithContext(ctx, &sdb.DeleteDomainInput{DomainName: aws.String(name)})
	return err
}

// PutAttributes replaces the listed attributes of an item.
func (a *adapter) PutAttributes(ctx context.Context, table, key string, attrs t.Attrs, cond *t.Condition) error {
	replace := make([]*sdb.ReplaceableAttribute, 0, len(attrs))
	for _, name := range attrs.Keys() {
		replace = append(replace, &sdb.ReplaceableAttribute{
			Name:    aws.String(name),
			Value:   aws.String(attrs[name]),
			Replace: aws.Bool(true),
		})
	}
	_, err := a.svc.PutAttributesWithContext(ctx, &sdb.PutAttributesInput{
		DomainName: aws.String(table),
		ItemName:   aws.String(key),
		Attributes: replace,
		Expected:   expected(cond),
	})
	if isConditionFailed(err) {
		return t.ErrConditionFailed
	}
	return err
}

func toAttrs(list []*sdb.Attribute) t.Attrs {
	attrs := make(t.Attrs, len(list))
	for _, at := range list {
		attrs[aws.StringValue(at.Name)] = aws.StringValue(at.Value)
	}
	return attrs
}

// GetAttributes reads all attributes of an item.
func (a *adapter) GetAttributes(ctx context.Context, table, key string, consistent bool) (t.Attrs, error) {
	out, err := a.svc.GetAttributesWithContext(ctx, &sdb.GetAttributesInput{
		DomainName:     aws.String(table),
		ItemName:       aws.String(key),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return nil, err
	}
	return toAttrs(out.Attributes), nil
}

// DeleteAttributes deletes an item.
func (a *adapter) DeleteAttributes(ctx context.Context, table, key string, cond *t.Condition) error {
	_, err := a.svc.DeleteAttributesWithContext(ctx, &sdb.DeleteAttributesInput{
		DomainName: aws.String(table),
		ItemName:   aws.String(key),
		Expected:   expected(cond),
	})
	if isConditionFailed(err) {
		return t.ErrConditionFailed
	}
	return err
}

// quoteName quotes an attribute or domain name for a select expression.
func quoteName(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// quoteValue quotes a constant for a select expression.
func quoteValue(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`)

// whereClause translates a filter into a select expression condition.
func whereClause(filter *t.Filter) string {
	if filter.IsEmpty() {
		return ""
	}
	parts := make([]string, len(filter.Terms))
	for i, term := range filter.Terms {
		name := quoteName(term.Attr)
		switch term.Op {
		case t.OpPrefix:
			parts[i] = name + " like " + quoteValue(likeEscaper.Replace(term.Value)+"%")
		default:
			parts[i] = name + " " + string(term.Op) + " " + quoteValue(term.Value)
		}
	}
	return " where " + strings.Join(parts, " and ")
}

// selectExpression builds the select or count expression of a query page.
func selectExpression(table string, filter *t.Filter, count bool, limit int) string {
	what := "*"
	if count {
		what = "count(*)"
	}
	expr := "select " + what + " from " + quoteName(table) + whereClause(filter)
	if !count {
		expr += " limit " + strconv.Itoa(limit)
	}
	return expr
}

// Select returns one page of matching items.
func (a *adapter) Select(ctx context.Context, table string, filter *t.Filter, consistent bool, token string) ([]t.Item, string, error) {
	out, err := a.svc.SelectWithContext(ctx, &sdb.SelectInput{
		SelectExpression: aws.String(selectExpression(table, filter, false, a.limit())),
		ConsistentRead:   aws.Bool(consistent),
		NextToken:        nextToken(token),
	})
	if err != nil {
		return nil, "", err
	}
	items := make([]t.Item, len(out.Items))
	for i, it := range out.Items {
		items[i] = t.Item{Key: aws.StringValue(it.Name), Attrs: toAttrs(it.Attributes)}
	}
	return items, aws.StringValue(out.NextToken), nil
}

// Count counts matching items. SimpleDB may return a partial count with a token.
func (a *adapter) Count(ctx context.Context, table string, filter *t.Filter, token string) (int, string, error) {
	out, err := a.svc.SelectWithContext(ctx, &sdb.SelectInput{
		SelectExpression: aws.String(selectExpression(table, filter, true, 0)),
		ConsistentRead:   aws.Bool(true),
		NextToken:        nextToken(token),
	})
	if err != nil {
		return 0, "", err
	}
	total := 0
	for _, it := range out.Items {
		for _, at := range it.Attributes {
			if aws.StringValue(at.Name) != "Count" {
				continue
			}
			n, err := strconv.Atoi(aws.StringValue(at.Value))
			if err != nil {
				return 0, "", errors.New("adapter simpledb: invalid count " + aws.StringValue(at.Value))
			}
			total += n
		}
	}
	return total, aws.StringValue(out.NextToken), nil
}

// BatchDelete deletes up to 25 items.
func (a *adapter) BatchDelete(ctx context.Context, table string, keys []string) error {
	if len(keys) > batchDeleteLimit {
		return errors.New("adapter simpledb: too many keys in batch delete")
	}
	if len(keys) == 0 {
		return nil
	}
	items := make([]*sdb.DeletableItem, len(keys))
	for i, k := range keys {
		items[i] = &sdb.DeletableItem{Name: aws.String(k)}
	}
	_, err := a.svc.BatchDeleteAttributesWithContext(ctx, &sdb.BatchDeleteAttributesInput{
		DomainName: aws.String(table),
		Items:      items,
	})
	return err
}

// BatchDeleteLimit returns the SimpleDB batch size limit.
func (a *adapter) BatchDeleteLimit() int {
	return batchDeleteLimit
}

func init() {
	store.RegisterAdapter(&adapter{})
}
