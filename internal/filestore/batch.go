package filestore

import (
	"bytes"
	"context"

	"golang.org/x/sync/errgroup"
)

type Object struct {
	Key         string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

type UploadResult struct {
	Key string
	URL string
	Err error
}

// BatchUpload saves all objects in parallel with at most concurrency uploads
// in flight. A failed object never stops the others; results keep the input order.
func BatchUpload(ctx context.Context, store Store, objects []Object, concurrency int) []UploadResult {
	results := make([]UploadResult, len(objects))
	if concurrency <= 0 {
		concurrency = 1
	}
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range objects {
		i := i
		obj := objects[i]
		results[i].Key = obj.Key
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			err := store.Save(ctx, obj.Key, bytes.NewReader(obj.Data), int64(len(obj.Data)), SaveOptions{
				ContentType: obj.ContentType,
				Metadata:    obj.Metadata,
			})
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].URL = store.URL(obj.Key)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
