package vectorindex

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/recalld/internal/chat"
)

var qdrantTracer = otel.Tracer("recalld.vectorindex.qdrant")

// payloadMessageID holds the original message id; point ids are derived from it.
const payloadMessageID = "message_id"

// messageNamespace seeds UUIDv5 point ids for non-numeric message ids.
var messageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://recalld/messages"))

// QdrantConfig holds configuration for the Qdrant gRPC index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost".
	Host string `koanf:"host"`

	// Port is the gRPC port (not the 6333 REST port). Default: 6334.
	Port int `koanf:"port"`

	// APIKey authenticates against Qdrant Cloud.
	APIKey string `koanf:"api_key"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// Collection is the collection name. Default: "messages".
	Collection string `koanf:"collection"`

	// VectorSize must match the embedder's output dimension.
	VectorSize uint64 `koanf:"vector_size"`

	// MaxRetries bounds retries of transient failures. Default: 3.
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial backoff, doubled per retry. Default: 500ms.
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// MaxMessageSize is the gRPC message size limit in bytes. Default: 50MB.
	MaxMessageSize int `koanf:"max_message_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "messages"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// QdrantIndex implements Index on Qdrant's native gRPC client.
type QdrantIndex struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantIndex connects, checks health and ensures the collection and its
// channel_id keyword index exist.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	qcfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)")
		qcfg.GrpcOptions = append(qcfg.GrpcOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant connect: %w", chat.ErrStoreFailure, err)
	}
	idx := &QdrantIndex{client: client, config: cfg, logger: logger}

	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant index ready",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("collection", cfg.Collection),
		zap.Uint64("vector_size", cfg.VectorSize),
	)
	return idx, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.EnsureCollection")
	defer span.End()

	if _, err := q.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: qdrant health check: %w", chat.ErrStoreFailure, err)
	}

	exists := true
	err := q.retry(ctx, "get_collection", func() error {
		_, err := q.client.GetCollectionInfo(ctx, q.config.Collection)
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			exists = false
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = q.retry(ctx, "create_collection", func() error {
		return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return err
	}

	return q.retry(ctx, "create_field_index", func() error {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.config.Collection,
			FieldName:      KeyChannelID,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
}

// Upsert implements Index.
func (q *QdrantIndex) Upsert(ctx context.Context, items []Item) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("item_count", len(items)))

	points := make([]*qdrant.PointStruct, len(items))
	for i, it := range items {
		if it.ID == "" {
			return fmt.Errorf("%w: item at index %d has no id", chat.ErrInvalidInput, i)
		}
		points[i] = &qdrant.PointStruct{
			Id:      PointID(it.ID),
			Vectors: qdrant.NewVectors(it.Vector...),
			Payload: encodePayload(it.ID, it.Metadata),
		}
	}

	err := q.retry(ctx, "upsert", func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Delete implements Index.
func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Delete")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = PointID(id)
	}

	err := q.retry(ctx, "delete", func() error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: q.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query implements Index.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", opts.TopK))

	if opts.TopK <= 0 {
		return []Match{}, nil
	}

	var results []*qdrant.ScoredPoint
	err := q.retry(ctx, "query", func() error {
		res, err := q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: q.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(opts.TopK)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         buildFilter(opts.Filter),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	matches := make([]Match, len(results))
	for i, p := range results {
		id, meta := decodePayload(p.GetPayload())
		matches[i] = Match{ID: id, Score: p.GetScore(), Metadata: meta}
	}
	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// retry runs op, retrying transient failures with exponential backoff.
func (q *QdrantIndex) retry(ctx context.Context, name string, op func() error) error {
	backoff := q.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%w: qdrant %s: %w", chat.ErrStoreFailure, name, err)
		}
		if attempt >= q.config.MaxRetries {
			return fmt.Errorf("%w: qdrant %s failed after %d retries: %w", chat.ErrStoreFailure, name, attempt, err)
		}

		q.logger.Warn("retrying qdrant operation",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("qdrant %s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// PointID maps a message id to a Qdrant point id: unsigned integers map to
// numeric ids, anything else to a UUIDv5 derived from the id.
func PointID(id string) *qdrant.PointId {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return qdrant.NewIDNum(n)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(messageNamespace, []byte(id)).String())
}

func encodePayload(id string, meta Metadata) map[string]*qdrant.Value {
	fields := meta.Fields()
	payload := make(map[string]*qdrant.Value, len(fields)+1)
	for k, v := range fields {
		payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
	}
	payload[payloadMessageID] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: id}}
	return payload
}

func decodePayload(payload map[string]*qdrant.Value) (string, Metadata) {
	fields := make(map[string]string, len(payload))
	for k, v := range payload {
		if s, ok := v.GetKind().(*qdrant.Value_StringValue); ok {
			fields[k] = s.StringValue
		}
	}
	return fields[payloadMessageID], MetadataFromFields(fields)
}

func buildFilter(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: value},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

var _ Index = (*QdrantIndex)(nil)
