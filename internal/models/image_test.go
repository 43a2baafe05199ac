package models

import (
	"testing"

	pgvector "github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
)

func TestImage_HasEmbedding(t *testing.T) {
	assert.False(t, Image{}.HasEmbedding())

	empty := pgvector.NewVector(nil)
	assert.False(t, Image{Embedding: &empty}.HasEmbedding())

	v := pgvector.NewVector([]float32{1, 0})
	assert.True(t, Image{Embedding: &v}.HasEmbedding())
}
