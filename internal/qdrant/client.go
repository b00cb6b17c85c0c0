// Package qdrant stores name embeddings in Qdrant so that they survive across
// resolution sessions and are not recomputed by the embedding model.
package qdrant

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/helixir/entity-resolution-service/internal/embedding"
)

// maxRecvMsgSize accommodates large embedding vectors in Get responses.
const maxRecvMsgSize = 16 << 20

// pointNamespace scopes the deterministic point IDs derived from model and key.
var pointNamespace = uuid.MustParse("6f1c9a52-3e0b-5d7e-9a4f-2b8c1d0e7a63")

// Payload field names stored alongside each vector.
const (
	payloadModel = "model"
	payloadKey   = "key"
)

// Config holds the configuration for connecting to a Qdrant instance.
type Config struct {
	// Address is the host:port of the Qdrant gRPC endpoint (e.g. "localhost:6334").
	Address string
	// CollectionName is the Qdrant collection to use (e.g. "entity_name_embeddings").
	CollectionName string
	// VectorSize is the dimensionality of the embedding vectors (e.g. 1536 for text-embedding-3-small).
	VectorSize uint64
	// APIKey authenticates against Qdrant Cloud (optional).
	APIKey string
	// UseTLS enables TLS on the gRPC connection.
	UseTLS bool
}

// Validate checks that all required Config fields are set.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("qdrant config: address is required")
	}
	if c.CollectionName == "" {
		return fmt.Errorf("qdrant config: collection name is required")
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("qdrant config: vector size must be > 0")
	}
	return nil
}

// Compile-time check that Client implements embedding.VectorCache.
var _ embedding.VectorCache = (*Client)(nil)

// Client is a Qdrant-backed embedding cache. Each point holds the vector of
// one normalized name for one embedding model.
type Client struct {
	client         *pb.Client
	collectionName string
	vectorSize     uint64
}

// NewClient creates a new Qdrant client for the configured gRPC address.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	host, port, err := parseAddress(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid address %q: %w", cfg.Address, err)
	}

	qdrantClient, err := pb.NewClient(&pb.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRecvMsgSize)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &Client{
		client:         qdrantClient,
		collectionName: cfg.CollectionName,
		vectorSize:     cfg.VectorSize,
	}, nil
}

// EnsureCollection creates the collection with cosine distance if it does not exist.
func (c *Client) EnsureCollection(ctx context.Context) error {
	exists, err := c.client.CollectionExists(ctx, c.collectionName)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = c.client.CreateCollection(ctx, &pb.CreateCollection{
		CollectionName: c.collectionName,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     c.vectorSize,
			Distance: pb.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", c.collectionName, err)
	}

	return nil
}

// Get returns the cached vector for key under model.
func (c *Client) Get(ctx context.Context, model, key string) ([]float32, bool, error) {
	points, err := c.client.Get(ctx, &pb.GetPoints{
		CollectionName: c.collectionName,
		Ids:            []*pb.PointId{pb.NewIDUUID(PointID(model, key).String())},
		WithVectors:    pb.NewWithVectors(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("qdrant: failed to get point for %q: %w", key, err)
	}
	if len(points) == 0 {
		return nil, false, nil
	}

	vec := points[0].GetVectors().GetVector()
	if dense := vec.GetDense(); dense != nil {
		return dense.GetData(), true, nil
	}
	if data := vec.GetData(); len(data) > 0 {
		return data, true, nil
	}
	return nil, false, nil
}

// Put stores vector for key under model. Point IDs are deterministic, so
// repeated puts overwrite rather than duplicate.
func (c *Client) Put(ctx context.Context, model, key string, vector []float32) error {
	if uint64(len(vector)) != c.vectorSize {
		return fmt.Errorf("qdrant: vector size %d does not match collection size %d", len(vector), c.vectorSize)
	}

	wait := true
	_, err := c.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: c.collectionName,
		Wait:           &wait,
		Points: []*pb.PointStruct{
			{
				Id:      pb.NewIDUUID(PointID(model, key).String()),
				Vectors: pb.NewVectors(vector...),
				Payload: pb.NewValueMap(map[string]any{
					payloadModel: model,
					payloadKey:   key,
				}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to upsert point for %q: %w", key, err)
	}

	return nil
}

// Close releases the gRPC connection to Qdrant.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// PointID derives the point ID of a cached name embedding.
func PointID(model, key string) uuid.UUID {
	return uuid.NewSHA1(pointNamespace, []byte(model+"\x00"+key))
}

// parseAddress splits an address of the form "host:port".
func parseAddress(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		return "", 0, fmt.Errorf("missing host in address %q", addr)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	if port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("port %d out of range", port)
	}

	return host, port, nil
}
