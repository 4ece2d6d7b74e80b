// Package handler provides the App struct that serves as the API facade
// for the video analysis job engine, delegating to the repository,
// transcript store, vector store, and worker collaborators.
package handler

import (
	"videoagent/internal/config"
	"videoagent/internal/embedding"
	"videoagent/internal/llm"
	"videoagent/internal/media"
	"videoagent/internal/repo"
	"videoagent/internal/transcript"
	"videoagent/internal/vectorstore"
	"videoagent/internal/worker"
)

// App binds every backend collaborator the HTTP surface needs.
type App struct {
	Repo        *repo.Repo
	Transcripts *transcript.Store
	Vectors     *vectorstore.Store
	Media       *media.Runner
	LLM         *llm.Registry
	Worker      *worker.Worker
	Config      config.Config
	DataDir     string
}

// NewApp builds an App with every collaborator injected.
func NewApp(r *repo.Repo, transcripts *transcript.Store, vectors *vectorstore.Store, mediaRunner *media.Runner, llmRegistry *llm.Registry, w *worker.Worker, cfg config.Config, dataDir string) *App {
	return &App{
		Repo:        r,
		Transcripts: transcripts,
		Vectors:     vectors,
		Media:       mediaRunner,
		LLM:         llmRegistry,
		Worker:      w,
		Config:      cfg,
		DataDir:     dataDir,
	}
}

// resolveEmbedder builds the embedding collaborator for a given model name,
// mirroring the worker's own resolution so the retrieval path embeds
// queries the same way the index pipeline embeds chunks.
func (a *App) resolveEmbedder(modelName string, dim int) embedding.Embedder {
	return embedding.Resolve(modelName, a.Config.Embedding.Endpoint, a.Config.Embedding.APIKey, dim)
}
