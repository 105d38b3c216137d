package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

const queueAlreadyExists = "QueueAlreadyExists"

// Provision creates the given tables and queues when they do not exist yet.
// Empty names are skipped.
func Provision(ctx context.Context, connStr string, tables, queues []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range tables {
		if name == "" {
			continue
		}
		c := svc.NewClient(name)
		err := ignoreExists(string(aztables.TableAlreadyExists), func() error {
			_, err := c.CreateTable(ctx, nil)
			return err
		})
		if err != nil {
			return err
		}
		log.WithField("table", name).Info("table ready")
	}
	for _, name := range queues {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		err = ignoreExists(queueAlreadyExists, func() error {
			_, err := q.Create(ctx, nil)
			return err
		})
		if err != nil {
			return err
		}
		log.WithField("queue", name).Info("queue ready")
	}
	return nil
}

// ignoreExists runs create and treats the given "already exists" error code
// as success.
func ignoreExists(code string, create func() error) error {
	err := create()
	if err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == code) {
			return err
		}
	}
	return nil
}
