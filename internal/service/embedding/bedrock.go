package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/pgvector/pgvector-go"
)

// BedrockProvider generates embeddings using Amazon Bedrock Titan models.
// Titan Text Embeddings V2 supports configurable output dimensions; vectors
// are requested pre-normalized so cosine similarity reduces to a dot product.
type BedrockProvider struct {
	client     *bedrockruntime.Client
	model      string
	dimensions int
}

// NewBedrockProvider creates a Bedrock embedding provider. Credentials come
// from the standard AWS chain (env, shared config, instance role).
func NewBedrockProvider(ctx context.Context, region, model string, dimensions int) (*BedrockProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return &BedrockProvider{
		client:     bedrockruntime.NewFromConfig(cfg),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Dimensions returns the requested embedding vector size.
func (p *BedrockProvider) Dimensions() int {
	return p.dimensions
}

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions"`
	Normalize  bool   `json:"normalize"`
}

type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embed generates a single embedding vector from text.
func (p *BedrockProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	body, err := json.Marshal(titanEmbedRequest{
		InputText:  text,
		Dimensions: p.dimensions,
		Normalize:  true,
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("bedrock: marshal request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("bedrock: invoke %s: %w", p.model, err)
	}

	var result titanEmbedResponse
	if err := json.Unmarshal(out.Body, &result); err != nil {
		return pgvector.Vector{}, fmt.Errorf("bedrock: decode response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("bedrock: empty embedding returned")
	}
	if len(result.Embedding) != p.dimensions {
		return pgvector.Vector{}, fmt.Errorf("bedrock: got %d dimensions, want %d", len(result.Embedding), p.dimensions)
	}

	return pgvector.NewVector(result.Embedding), nil
}

// bedrockMaxConcurrency bounds parallel InvokeModel calls to stay under
// the default account-level request quota.
const bedrockMaxConcurrency = 8

// EmbedBatch generates embeddings for multiple texts. Titan has no batch
// endpoint, so calls run concurrently under a bounded worker pool.
func (p *BedrockProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) == 1 {
		vec, err := p.Embed(ctx, texts[0])
		if err != nil {
			return nil, err
		}
		return []pgvector.Vector{vec}, nil
	}

	vecs := make([]pgvector.Vector, len(texts))
	errs := make([]error, len(texts))
	sem := make(chan struct{}, bedrockMaxConcurrency)

	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		go func(idx int, t string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			vec, err := p.Embed(ctx, t)
			if err != nil {
				errs[idx] = fmt.Errorf("bedrock: batch item %d: %w", idx, err)
				return
			}
			vecs[idx] = vec
		}(i, text)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return vecs, nil
}
