// Package emulator runs an in-process GCS server for tests.
package emulator

import (
	"net"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/fsouza/fake-gcs-server/fakestorage"
)

func freePort(t *testing.T) uint16 {
	t.Helper()

	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("getting free port: %v", err)
	}
	defer l.Close()

	return uint16(l.Addr().(*net.TCPAddr).Port)
}

type Emulator struct {
	server *fakestorage.Server
	t      *testing.T
}

// PutObject creates or overwrites an object, bumping its generation.
func (e *Emulator) PutObject(bucket, name, contentType string, content []byte) {
	e.server.CreateObject(fakestorage.Object{
		ObjectAttrs: fakestorage.ObjectAttrs{
			BucketName:  bucket,
			Name:        name,
			ContentType: contentType,
		},
		Content: content,
	})
}

func (e *Emulator) GetObject(bucket, name string) fakestorage.Object {
	obj, err := e.server.GetObject(bucket, name)
	if err != nil {
		e.t.Fatalf("getting object %s/%s: %v", bucket, name, err)
	}

	return obj
}

func (e *Emulator) CreateBucket(name string) {
	e.server.CreateBucketWithOpts(fakestorage.CreateBucketOpts{
		Name: name,
	})
}

func (e *Emulator) Client() *storage.Client {
	return e.server.Client()
}

// Endpoint is the storage JSON API root, suitable for cs.New.
func (e *Emulator) Endpoint() string {
	return e.server.URL() + "/storage/v1/"
}

func (e *Emulator) Cleanup() {
	e.server.Stop()
}

func New(t *testing.T, initialObjects []fakestorage.Object) *Emulator {
	t.Helper()

	server, err := fakestorage.NewServerWithOptions(fakestorage.Options{
		InitialObjects: initialObjects,
		Scheme:         "http",
		Host:           "localhost",
		Port:           freePort(t),
	})
	if err != nil {
		t.Fatalf("creating fake storage server: %v", err)
	}

	return &Emulator{
		t:      t,
		server: server,
	}
}
