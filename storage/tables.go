package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// fieldPrefix marks entity properties that hold document fields.
const fieldPrefix = "f_"

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

// TableBackend stores documents as Azure Table entities. The partition key is
// the escaped collection path and the row key is the document id. Each
// top-level field is kept as a JSON string property.
type TableBackend struct {
	table tableClient
}

// NewTableBackend connects to the named table.
func NewTableBackend(connStr, table string) (*TableBackend, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &TableBackend{table: svc.NewClient(table)}, nil
}

func (t *TableBackend) Get(ctx context.Context, path Path) (Document, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	pk, rk := entityKeys(path)
	resp, err := t.table.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return decodeEntity(resp.Value)
}

func (t *TableBackend) Set(ctx context.Context, path Path, doc Document, opts SetOptions) error {
	if err := path.Validate(); err != nil {
		return err
	}
	payload, err := encodeEntity(path, doc)
	if err != nil {
		return err
	}
	mode := aztables.UpdateModeReplace
	if opts.Merge {
		mode = aztables.UpdateModeMerge
	}
	if _, err := t.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: mode}); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (t *TableBackend) Update(ctx context.Context, path Path, fields Document) error {
	if err := path.Validate(); err != nil {
		return err
	}
	payload, err := encodeEntity(path, fields)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = t.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("update %s: %w", path, err)
	}
	return nil
}

func (t *TableBackend) Delete(ctx context.Context, path Path) error {
	if err := path.Validate(); err != nil {
		return err
	}
	pk, rk := entityKeys(path)
	if _, err := t.table.DeleteEntity(ctx, pk, rk, nil); err != nil && !isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// entityKeys maps a path to table keys. Segments are escaped so that '/', '#'
// and '?' never reach the key.
func entityKeys(path Path) (string, string) {
	parent := make([]string, len(path)-1)
	for i, s := range path[:len(path)-1] {
		parent[i] = url.PathEscape(s)
	}
	return strings.Join(parent, ":"), url.PathEscape(path.ID())
}

func encodeEntity(path Path, doc Document) ([]byte, error) {
	pk, rk := entityKeys(path)
	ent := map[string]any{
		"PartitionKey": pk,
		"RowKey":       rk,
	}
	for name, raw := range doc {
		ent[fieldPrefix+name] = string(raw)
	}
	return codec.Marshal(ent)
}

func decodeEntity(data []byte) (Document, error) {
	var props map[string]any
	if err := codec.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	doc := Document{}
	for name, v := range props {
		if !strings.HasPrefix(name, fieldPrefix) || strings.Contains(name, "@") {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("decode entity: field %s is %T", name, v)
		}
		doc[strings.TrimPrefix(name, fieldPrefix)] = []byte(s)
	}
	return doc, nil
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}
