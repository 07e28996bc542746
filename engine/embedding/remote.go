package embedding

import "context"

// Remote is a provider client that tells query and document embeddings
// apart with a flag, such as the pkg/openai and pkg/ollama clients.
type Remote interface {
	EmbeddingModel() string
	Embed(ctx context.Context, texts []string, query bool) ([][]float32, error)
}

// FromRemote adapts a Remote client to Provider.
func FromRemote(r Remote) Provider { return remoteProvider{r} }

type remoteProvider struct{ r Remote }

func (p remoteProvider) Model() string { return p.r.EmbeddingModel() }

func (p remoteProvider) Embed(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	return p.r.Embed(ctx, texts, task == TaskQuery)
}
