package semantic

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/regcheck/engine/domain"
)

// Payload keys. Chunk metadata is stored under metaPrefix.
const (
	keyChunkID    = "chunk_id"
	keyDocument   = "document_name"
	keyFileHash   = "source_file_hash"
	keyPage       = "page_number"
	keyIndex      = "chunk_index"
	keyContent    = "content"
	keyType       = "chunk_type"
	keyTokenCount = "token_count"
	keyWordCount  = "word_count"
	metaPrefix    = "meta."
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	UpdateBatch(ctx context.Context, in *pb.UpdateBatchPoints, opts ...grpc.CallOption) (*pb.UpdateBatchResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantStore keeps chunks in a Qdrant collection named after its dimension.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	dim         int
}

// NewQdrant connects to Qdrant at the given gRPC address. Vectors of length
// dim go to the collection <base>_<dim>.
func NewQdrant(addr, base string, dim int) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, domain.Wrap(domain.ErrVectorStore, "dial qdrant "+addr, err)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), base, dim)
	s.conn = conn
	return s, nil
}

// NewWithClients builds a QdrantStore over existing clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, base string, dim int) *QdrantStore {
	return &QdrantStore{
		points:      points,
		collections: collections,
		collection:  PartitionName(base, dim),
		dim:         dim,
	}
}

// Close closes the underlying gRPC connection.
func (q *QdrantStore) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

func (q *QdrantStore) Dimension() int { return q.dim }

// Collection returns the partition name.
func (q *QdrantStore) Collection() string { return q.collection }

// EnsureCollection creates the cosine collection and its payload indexes
// if they don't exist.
func (q *QdrantStore) EnsureCollection(ctx context.Context) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return domain.Wrap(domain.ErrVectorStore, "list collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(q.dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return domain.Wrap(domain.ErrVectorStore, "create collection "+q.collection, err)
	}
	wait := true
	for _, field := range []string{keyDocument, keyType} {
		_, err := q.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
			Wait:           &wait,
		})
		if err != nil {
			return domain.Wrap(domain.ErrVectorStore, "index "+field, err)
		}
	}
	return nil
}

// DeleteCollection drops the partition.
func (q *QdrantStore) DeleteCollection(ctx context.Context) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection})
	if err != nil {
		return domain.Wrap(domain.ErrVectorStore, "delete collection "+q.collection, err)
	}
	return nil
}

func (q *QdrantStore) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := validateWrite(chunks, q.dim, ""); err != nil {
		return err
	}
	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         toPoints(chunks),
	})
	if err != nil {
		return domain.Wrap(domain.ErrVectorStore, fmt.Sprintf("upsert %d points", len(chunks)), err)
	}
	return nil
}

func (q *QdrantStore) DeleteByDocument(ctx context.Context, document string) error {
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         documentSelector(document),
	})
	if err != nil {
		return domain.WrapDocument(domain.ErrVectorStore, "delete", document, err)
	}
	return nil
}

// ReplaceDocument sends the delete and the upsert as one ordered batch.
// Qdrant applies them in sequence, not atomically: a concurrent search can
// find the document with no chunks, but never a mix of old and new ones.
func (q *QdrantStore) ReplaceDocument(ctx context.Context, document string, chunks []domain.Chunk) error {
	if err := validateWrite(chunks, q.dim, document); err != nil {
		return err
	}
	ops := []*pb.PointsUpdateOperation{{
		Operation: &pb.PointsUpdateOperation_DeletePoints_{
			DeletePoints: &pb.PointsUpdateOperation_DeletePoints{Points: documentSelector(document)},
		},
	}}
	if len(chunks) > 0 {
		ops = append(ops, &pb.PointsUpdateOperation{
			Operation: &pb.PointsUpdateOperation_Upsert{
				Upsert: &pb.PointsUpdateOperation_PointStructList{Points: toPoints(chunks)},
			},
		})
	}
	wait := true
	_, err := q.points.UpdateBatch(ctx, &pb.UpdateBatchPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Operations:     ops,
	})
	if err != nil {
		return domain.WrapDocument(domain.ErrVectorStore, "replace", document, err)
	}
	return nil
}

func (q *QdrantStore) Search(ctx context.Context, vec []float32, topK int, types []domain.ChunkType) ([]domain.RetrievedResult, error) {
	if err := validateQuery(vec, q.dim); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	req := &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vec,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(types) > 0 {
		req.Filter = &pb.Filter{Must: []*pb.Condition{fieldMatchAny(keyType, typeStrings(types))}}
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, domain.Wrap(domain.ErrVectorStore, "search", err)
	}
	results := make([]domain.RetrievedResult, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		results = append(results, domain.RetrievedResult{
			Chunk: fromPayload(p.GetPayload()),
			Score: similarity(float64(p.GetScore())),
		})
	}
	return rankResults(results, topK), nil
}

func (q *QdrantStore) FileHashFor(ctx context.Context, document string) (string, bool, error) {
	limit := uint32(1)
	resp, err := q.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: q.collection,
		Filter:         &pb.Filter{Must: []*pb.Condition{fieldMatch(keyDocument, document)}},
		Limit:          &limit,
		WithPayload: &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Include{
			Include: &pb.PayloadIncludeSelector{Fields: []string{keyFileHash}},
		}},
	})
	if err != nil {
		return "", false, domain.WrapDocument(domain.ErrVectorStore, "file hash", document, err)
	}
	if len(resp.GetResult()) == 0 {
		return "", false, nil
	}
	return resp.GetResult()[0].GetPayload()[keyFileHash].GetStringValue(), true, nil
}

// Status reports the point count. Qdrant has no cheap per-document
// aggregation, so Documents is left empty.
func (q *QdrantStore) Status(ctx context.Context) (Status, error) {
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{CollectionName: q.collection, Exact: &exact})
	if err != nil {
		return Status{}, domain.Wrap(domain.ErrVectorStore, "count", err)
	}
	return Status{
		Backend:     "qdrant",
		Partition:   q.collection,
		Dimension:   q.dim,
		TotalChunks: int(resp.GetResult().GetCount()),
	}, nil
}

// PointID derives the Qdrant point id from a chunk id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func toPoints(chunks []domain.Chunk) []*pb.PointStruct {
	points := make([]*pb.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(c.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: c.Embedding},
				},
			},
			Payload: toPayload(c),
		}
	}
	return points
}

func toPayload(c domain.Chunk) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		keyChunkID:    stringValue(c.ID),
		keyDocument:   stringValue(c.DocumentName),
		keyFileHash:   stringValue(c.SourceFileHash),
		keyIndex:      intValue(c.Index),
		keyContent:    stringValue(c.Content),
		keyType:       stringValue(string(c.Type)),
		keyTokenCount: intValue(c.TokenCount),
		keyWordCount:  intValue(c.WordCount),
	}
	if c.PageNumber != nil {
		payload[keyPage] = intValue(*c.PageNumber)
	}
	for k, v := range c.Metadata {
		payload[metaPrefix+k] = stringValue(v)
	}
	return payload
}

func fromPayload(p map[string]*pb.Value) domain.Chunk {
	c := domain.Chunk{
		ID:             p[keyChunkID].GetStringValue(),
		DocumentName:   p[keyDocument].GetStringValue(),
		SourceFileHash: p[keyFileHash].GetStringValue(),
		Index:          int(p[keyIndex].GetIntegerValue()),
		Content:        p[keyContent].GetStringValue(),
		Type:           domain.ChunkType(p[keyType].GetStringValue()),
		TokenCount:     int(p[keyTokenCount].GetIntegerValue()),
		WordCount:      int(p[keyWordCount].GetIntegerValue()),
	}
	if v, ok := p[keyPage]; ok {
		page := int(v.GetIntegerValue())
		c.PageNumber = &page
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if name, ok := strings.CutPrefix(k, metaPrefix); ok {
			if c.Metadata == nil {
				c.Metadata = make(map[string]string)
			}
			c.Metadata[name] = payloadString(p[k])
		}
	}
	return c
}

func payloadString(v *pb.Value) string {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return strconv.FormatInt(k.IntegerValue, 10)
	case *pb.Value_DoubleValue:
		return strconv.FormatFloat(k.DoubleValue, 'g', -1, 64)
	case *pb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	default:
		return ""
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}}
}

func documentSelector(document string) *pb.PointsSelector {
	return &pb.PointsSelector{
		PointsSelectorOneOf: &pb.PointsSelector_Filter{
			Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch(keyDocument, document)}},
		},
	}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func fieldMatchAny(key string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: values}},
				},
			},
		},
	}
}
