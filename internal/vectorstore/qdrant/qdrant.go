// Package qdrant stores chunk vectors in a Qdrant server over gRPC.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/askmypdf/backend/internal/models"
	"github.com/askmypdf/backend/internal/vectorstore"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Payload keys.
const (
	keyContent   = "page_content"
	keyPage      = "page"
	keyPageLabel = "page_label"
	keySource    = "source"
	keyChunkID   = "chunk_id"
	keyIndex     = "index"
)

// Options configures the connection.
type Options struct {
	Host    string
	Port    int
	UseTLS  bool
	APIKey  string
	Timeout time.Duration
}

// Store implements vectorstore.Store against Qdrant.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	apiKey      string
	timeout     time.Duration
}

var _ vectorstore.Store = (*Store)(nil)

// Dial connects to Qdrant. The connection is lazy; errors surface on the
// first call.
func Dial(opts Options) (*Store, error) {
	if opts.Port == 0 {
		opts.Port = 6334
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	creds := insecure.NewCredentials()
	if opts.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s: %w", addr, err)
	}
	fmt.Printf("[Qdrant] Using %s (tls=%v)\n", addr, opts.UseTLS)

	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		apiKey:      opts.APIKey,
		timeout:     opts.Timeout,
	}, nil
}

func (s *Store) Name() string { return "qdrant" }

func (s *Store) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	if s.apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", s.apiKey)
	}
	return ctx, cancel
}

func (s *Store) CreateCollection(ctx context.Context, name string, dim int) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{
				Size:     uint64(dim),
				Distance: pb.Distance_Cosine,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, name string, chunks []models.Chunk, vectors [][]float32) error {
	if err := vectorstore.CheckUpsert(chunks, vectors, 0); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         toPoints(chunks, vectors),
	})
	if err != nil {
		return fmt.Errorf("upserting %d points into %s: %w", len(chunks), name, err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, name string, vector []float32, topK int) ([]models.SearchResult, error) {
	if topK <= 0 {
		topK = 4
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: name,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", name, err)
	}
	return fromScoredPoints(resp.GetResult()), nil
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name}); err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// pointID derives a stable UUID so re-indexing a chunk overwrites it.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func toPoints(chunks []models.Chunk, vectors [][]float32) []*pb.PointStruct {
	points := make([]*pb.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		points = append(points, &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(c.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vectors[i]}}},
			Payload: payload(c),
		})
	}
	return points
}

func payload(c models.Chunk) map[string]*pb.Value {
	str := func(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
	num := func(n int) *pb.Value { return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}} }

	return map[string]*pb.Value{
		keyContent:   str(c.Content),
		keyPage:      num(c.Page),
		keyPageLabel: str(c.PageLabel),
		keySource:    str(c.Source),
		keyChunkID:   str(c.ID),
		keyIndex:     num(c.Index),
	}
}

func fromScoredPoints(points []*pb.ScoredPoint) []models.SearchResult {
	results := make([]models.SearchResult, 0, len(points))
	for _, p := range points {
		pl := p.GetPayload()
		results = append(results, models.SearchResult{
			Chunk: models.Chunk{
				ID:        pl[keyChunkID].GetStringValue(),
				Content:   pl[keyContent].GetStringValue(),
				Page:      int(pl[keyPage].GetIntegerValue()),
				PageLabel: pl[keyPageLabel].GetStringValue(),
				Source:    pl[keySource].GetStringValue(),
				Index:     int(pl[keyIndex].GetIntegerValue()),
			},
			Score: p.GetScore(),
		})
	}
	return results
}
