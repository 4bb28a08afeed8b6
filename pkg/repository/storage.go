package repository

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/googleapi"
)

const clearAttempts = 3

// CloudStorage stores the profile document as a Cloud Storage object, in the
// same front-matter format as File. Object generations serve as the
// compare-and-commit precondition.
type CloudStorage struct {
	client *storage.Client
	bucket string
	object string
}

var _ Repository = (*CloudStorage)(nil)

// NewCloudStorage creates a Cloud Storage repository storing
// gs://bucket/prefix/profile.md
func NewCloudStorage(ctx context.Context, bucket, prefix string) (*CloudStorage, error) {
	if bucket == "" {
		return nil, goerr.New("bucket name is required")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &CloudStorage{
		client: client,
		bucket: bucket,
		object: path.Join(prefix, ProfileFileName),
	}, nil
}

// Close releases the underlying client
func (r *CloudStorage) Close() error {
	return r.client.Close()
}

func (r *CloudStorage) handle() *storage.ObjectHandle {
	return r.client.Bucket(r.bucket).Object(r.object)
}

// read returns the raw document and its generation; generation 0 means the
// object does not exist.
func (r *CloudStorage) read(ctx context.Context) ([]byte, int64, error) {
	reader, err := r.handle().NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, 0, nil
		}
		return nil, 0, goerr.Wrap(transient(err), "failed to open profile object", goerr.V("object", r.object))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, 0, goerr.Wrap(transient(err), "failed to read profile object", goerr.V("object", r.object))
	}
	return data, reader.Attrs.Generation, nil
}

// write stores p only if the object is still at generation gen
func (r *CloudStorage) write(ctx context.Context, p *model.Profile, gen int64) (bool, error) {
	data, err := encodeProfile(p)
	if err != nil {
		return false, err
	}

	cond := storage.Conditions{GenerationMatch: gen}
	if gen == 0 {
		cond = storage.Conditions{DoesNotExist: true}
	}

	w := r.handle().If(cond).NewWriter(ctx)
	w.ContentType = "text/markdown; charset=utf-8"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, goerr.Wrap(transient(err), "failed to write profile object", goerr.V("object", r.object))
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, goerr.Wrap(transient(err), "failed to finalize profile object", goerr.V("object", r.object))
	}

	return true, nil
}

func (r *CloudStorage) Load(ctx context.Context) (*model.Profile, error) {
	data, gen, err := r.read(ctx)
	if err != nil {
		return nil, err
	}
	if gen == 0 {
		return &model.Profile{}, nil
	}
	return decodeProfile(data), nil
}

func (r *CloudStorage) CommitIfCheckpoint(ctx context.Context, expected model.EntryID, content string, next model.EntryID) (bool, error) {
	if err := checkAdvance(expected, next); err != nil {
		return false, err
	}

	data, gen, err := r.read(ctx)
	if err != nil {
		return false, err
	}

	current := &model.Profile{}
	if gen != 0 {
		current = decodeProfile(data)
	}
	if current.Checkpoint != expected {
		return false, nil
	}

	return r.write(ctx, &model.Profile{
		Content:    content,
		Checkpoint: next,
		UpdatedAt:  time.Now(),
	}, gen)
}

func (r *CloudStorage) Clear(ctx context.Context, keepCheckpoint bool) error {
	for attempt := 0; attempt < clearAttempts; attempt++ {
		data, gen, err := r.read(ctx)
		if err != nil {
			return err
		}

		cleared := &model.Profile{UpdatedAt: time.Now()}
		if keepCheckpoint && gen != 0 {
			cleared.Checkpoint = decodeProfile(data).Checkpoint
		}

		ok, err := r.write(ctx, cleared, gen)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	return goerr.Wrap(model.ErrOptimisticConflict, "profile kept changing while clearing",
		goerr.V("attempts", clearAttempts))
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
