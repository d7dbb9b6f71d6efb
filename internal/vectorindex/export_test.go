package vectorindex

import "context"

// SetBeforeQuery installs a hook that runs between the count read and the
// chromem query.
func SetBeforeQuery(c *ChromemIndex, f func()) {
	c.beforeQuery = f
}

// DropCollection deletes the index's collection.
func DropCollection(ctx context.Context, q *QdrantIndex) error {
	return q.client.DeleteCollection(ctx, q.config.Collection)
}
