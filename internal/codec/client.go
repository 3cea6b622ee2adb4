package codec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/prompt-compliance/internal/provider"
)

// #region methods
// Full method names served by the inference sidecar. Messages are
// google.protobuf.Struct on both sides, so no generated stubs are needed.
const (
	MethodEmbed    = "/compliance.v1.Inference/Embed"
	MethodEvaluate = "/compliance.v1.Inference/Evaluate"
)

// #endregion methods

// #region client-struct
// CodecClient wraps the gRPC connection to the inference sidecar.
type CodecClient struct {
	conn   grpc.ClientConnInterface
	closer func() error
}

// #endregion client-struct

// #region constructor
// NewCodecClient connects to the inference gRPC server.
func NewCodecClient(addr string) (*CodecClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &CodecClient{conn: conn, closer: conn.Close}, nil
}

// NewCodecClientWithConn creates a CodecClient over an existing connection.
// Used for testing without a real gRPC server.
func NewCodecClientWithConn(conn grpc.ClientConnInterface) *CodecClient {
	return &CodecClient{conn: conn}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection if this client owns it.
func (c *CodecClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// #endregion close

// #region embed
// Embed implements provider.Embedder.
// Request {text}, response {embedding: [number]}.
func (c *CodecClient) Embed(ctx context.Context, text string) ([]float32, error) {
	req, err := structpb.NewStruct(map[string]any{"text": text})
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, MethodEmbed, req, resp); err != nil {
		return nil, fmt.Errorf("embed rpc: %w", classify(err))
	}

	values := resp.GetFields()["embedding"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil, errors.New("embed rpc: response has no embedding")
	}
	vec := make([]float32, len(values))
	for i, v := range values {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("embed rpc: embedding[%d] is not a number", i)
		}
		vec[i] = float32(n.NumberValue)
	}
	return vec, nil
}

// #endregion embed

// #region evaluate
// EvaluateStructured implements provider.Reasoner.
// Request {instructions, prompt, policies, schema_name, schema}, response {result: object}.
// The result object is returned as JSON; a missing result yields empty output.
func (c *CodecClient) EvaluateStructured(ctx context.Context, r provider.ReasoningRequest) ([]byte, error) {
	req, err := evaluateRequest(r)
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, MethodEvaluate, req, resp); err != nil {
		return nil, fmt.Errorf("evaluate rpc: %w", classify(err))
	}

	result := resp.GetFields()["result"].GetStructValue()
	if result == nil {
		return nil, nil
	}
	out, err := protojson.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("evaluate rpc: encode result: %w", err)
	}
	return out, nil
}

func evaluateRequest(r provider.ReasoningRequest) (*structpb.Struct, error) {
	policies := make([]any, len(r.Policies))
	for i, p := range r.Policies {
		policies[i] = map[string]any{
			"index":      p.Index,
			"text":       p.Text,
			"similarity": p.Similarity,
		}
	}
	fields := map[string]any{
		"instructions": r.Instructions,
		"prompt":       r.Prompt,
		"policies":     policies,
		"schema_name":  r.SchemaName,
	}
	if len(r.Schema) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(r.Schema, &schema); err != nil {
			return nil, fmt.Errorf("evaluate request: decode schema: %w", err)
		}
		fields["schema"] = schema
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("evaluate request: %w", err)
	}
	return req, nil
}

// #endregion evaluate

// #region classify
// classify marks status codes the sidecar uses for overload or restarts as transient.
func classify(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return provider.Transient(err)
	}
	return err
}

// #endregion classify
