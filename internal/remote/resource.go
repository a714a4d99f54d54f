package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tonimelisma/todosync/internal/entity"
)

// Resource is the REST collection of one entity type, served at
// {baseURL}/{collection}.
type Resource[T entity.Entity[T]] struct {
	t          *Transport
	collection string
}

// NewResource returns the collection named collection, e.g. "tasks".
func NewResource[T entity.Entity[T]](t *Transport, collection string) *Resource[T] {
	return &Resource[T]{t: t, collection: collection}
}

// Collection returns the collection name.
func (r *Resource[T]) Collection() string { return r.collection }

func (r *Resource[T]) itemPath(id string) string {
	return "/" + r.collection + "/" + url.PathEscape(id)
}

// List returns every record in the collection.
func (r *Resource[T]) List(ctx context.Context) ([]T, error) {
	var items []T
	if err := r.t.doJSON(ctx, http.MethodGet, "/"+r.collection, nil, &items); err != nil {
		return nil, err
	}

	return items, nil
}

// Get returns one record.
func (r *Resource[T]) Get(ctx context.Context, id string) (T, error) {
	var item T
	err := r.t.doJSON(ctx, http.MethodGet, r.itemPath(id), nil, &item)

	return item, err
}

// Create posts v and returns the server's copy, which may carry a different
// id than the one sent.
func (r *Resource[T]) Create(ctx context.Context, v T) (T, error) {
	var item T
	err := r.t.doJSON(ctx, http.MethodPost, "/"+r.collection, v, &item)

	return item, err
}

// Patch applies the changed fields to the record with id.
func (r *Resource[T]) Patch(ctx context.Context, id string, fields entity.Fields) (T, error) {
	var item T
	err := r.t.doJSON(ctx, http.MethodPatch, r.itemPath(id), fields, &item)

	return item, err
}

// Delete removes the record with id.
func (r *Resource[T]) Delete(ctx context.Context, id string) error {
	return r.t.doJSON(ctx, http.MethodDelete, r.itemPath(id), nil, nil)
}
