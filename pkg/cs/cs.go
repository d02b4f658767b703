// Package cs provides a small API over Google Cloud Storage for the objects
// this service reads at runtime, such as lookup dictionaries.
package cs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var (
	ErrObjectNotExist = errors.New("object does not exist")
	ErrBucketNotExist = errors.New("bucket does not exist")
)

type Operations interface {
	GetObjectAttributes(ctx context.Context, name string) (*Object, error)
	GetObjectWithData(ctx context.Context, name string) (*ObjectWithData, error)
	GetObjects(ctx context.Context, q *Query) ([]*Object, error)
	WriteObject(ctx context.Context, name string, data io.Reader, attrs *Attributes) error
}

var _ Operations = &Client{}

type Client struct {
	client *storage.Client
	bucket string
}

type Object struct {
	Name   string
	Bucket string
	Attrs  Attributes
}

type ObjectWithData struct {
	*Object
	Data []byte
}

type Attributes struct {
	ContentType string
	Size        int64
	// Generation changes every time the object is overwritten.
	Generation int64
}

type Query struct {
	Prefix string
}

func objectFromAttrs(attrs *storage.ObjectAttrs) *Object {
	return &Object{
		Name:   attrs.Name,
		Bucket: attrs.Bucket,
		Attrs: Attributes{
			ContentType: attrs.ContentType,
			Size:        attrs.Size,
			Generation:  attrs.Generation,
		},
	}
}

func translateErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		return ErrObjectNotExist
	case errors.Is(err, storage.ErrBucketNotExist):
		return ErrBucketNotExist
	}

	return err
}

func (c *Client) GetObjectAttributes(ctx context.Context, name string) (*Object, error) {
	attrs, err := c.client.Bucket(c.bucket).Object(name).Attrs(ctx)
	if err != nil {
		if e := translateErr(err); e != err {
			return nil, e
		}

		return nil, fmt.Errorf("getting object attributes: %w", err)
	}

	return objectFromAttrs(attrs), nil
}

func (c *Client) GetObjectWithData(ctx context.Context, name string) (*ObjectWithData, error) {
	obj := c.client.Bucket(c.bucket).Object(name)

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if e := translateErr(err); e != err {
			return nil, e
		}

		return nil, fmt.Errorf("getting object attributes: %w", err)
	}

	// Read the generation we looked at, not whatever was written since.
	if attrs.Generation > 0 {
		obj = obj.Generation(attrs.Generation)
	}

	r, err := obj.NewReader(ctx)
	if err != nil {
		if e := translateErr(err); e != err {
			return nil, e
		}

		return nil, fmt.Errorf("creating reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}

	return &ObjectWithData{
		Object: objectFromAttrs(attrs),
		Data:   data,
	}, nil
}

func (c *Client) GetObjects(ctx context.Context, q *Query) ([]*Object, error) {
	var query *storage.Query
	if q != nil {
		query = &storage.Query{
			Prefix: q.Prefix,
		}
	}

	objects := []*Object{}

	it := c.client.Bucket(c.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}

			if errors.Is(err, storage.ErrBucketNotExist) {
				return nil, ErrBucketNotExist
			}

			return nil, fmt.Errorf("iterating objects: %w", err)
		}

		objects = append(objects, objectFromAttrs(attrs))
	}

	return objects, nil
}

func (c *Client) WriteObject(ctx context.Context, name string, data io.Reader, attrs *Attributes) error {
	w := c.client.Bucket(c.bucket).Object(name).NewWriter(ctx)

	if attrs != nil && attrs.ContentType != "" {
		w.ContentType = attrs.ContentType
	}

	_, err := io.Copy(w, data)
	if err != nil {
		_ = w.Close()

		return fmt.Errorf("writing object: %w", err)
	}

	err = w.Close()
	if err != nil {
		if e := translateErr(err); e != err {
			return e
		}

		return fmt.Errorf("closing writer: %w", err)
	}

	return nil
}

// New returns a client for bucket. A non-empty endpoint points the client at
// an emulator and disables authentication.
func New(ctx context.Context, bucket, endpoint string) (*Client, error) {
	var options []option.ClientOption

	if endpoint != "" {
		options = append(options, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &Client{
		client: client,
		bucket: bucket,
	}, nil
}

func NewFromClient(bucket string, client *storage.Client) *Client {
	return &Client{
		client: client,
		bucket: bucket,
	}
}
