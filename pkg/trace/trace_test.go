package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsure(t *testing.T) {
	ctx := Ensure(context.Background())
	id := FromContext(ctx)
	assert.NotEmpty(t, id)

	assert.Equal(t, id, FromContext(Ensure(ctx)), "existing id is kept")
	assert.Equal(t, "abc", FromContext(WithContext(context.Background(), "abc")))
	assert.Empty(t, FromContext(context.Background()))
}
