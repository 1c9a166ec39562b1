package interceptors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-schema/contracts"
)

func TestTypeKeyFilter(t *testing.T) {
	ctx := context.Background()
	placed := contracts.NewTypeKey("shop.orders", "placed")

	ok, err := NewTypeKeyFilter(placed).ShouldProcess(ctx, testEnvelope())
	require.NoError(t, err)
	assert.True(t, ok, "versioned tag matches its base")

	ok, _ = NewTypeKeyFilter(contracts.NewTypeKey("shop.orders", "shipped")).ShouldProcess(ctx, testEnvelope())
	assert.False(t, ok)

	untagged := testEnvelope()
	delete(untagged.Payload, contracts.TypeField)
	ok, _ = NewTypeKeyFilter(placed).ShouldProcess(ctx, untagged)
	assert.False(t, ok)
}

func TestKindFilter(t *testing.T) {
	ctx := context.Background()

	ok, _ := NewKindFilter(contracts.KindEvent).ShouldProcess(ctx, testEnvelope())
	assert.True(t, ok)

	ok, _ = NewKindFilter(contracts.KindCommand).ShouldProcess(ctx, testEnvelope())
	assert.False(t, ok)
}

func TestFilteringInterceptor(t *testing.T) {
	ctx := context.Background()
	reject := MessageFilterFunc(func(context.Context, *contracts.Envelope) (bool, error) { return false, nil })
	accept := MessageFilterFunc(func(context.Context, *contracts.Envelope) (bool, error) { return true, nil })

	tests := []struct {
		name       string
		filter     MessageFilter
		behavior   SkipBehavior
		wantCalled bool
		wantErr    error
	}{
		{"accepted", accept, SkipWithError, true, nil},
		{"skipped silently", reject, SkipSilently, false, nil},
		{"skipped with log", reject, SkipWithLog, false, nil},
		{"skipped with error", reject, SkipWithError, false, ErrFiltered},
		{"and", NewCompositeFilter(accept, reject), SkipWithError, false, ErrFiltered},
		{"or", NewOrFilter(reject, accept), SkipWithError, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			err := NewFilteringInterceptor(tt.filter, tt.behavior, nil).Intercept(ctx, testEnvelope(), MessageHandlerFunc(func(context.Context, *contracts.Envelope) error {
				called = true
				return nil
			}))

			assert.Equal(t, tt.wantCalled, called)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("filter error", func(t *testing.T) {
		boom := errors.New("boom")
		failing := MessageFilterFunc(func(context.Context, *contracts.Envelope) (bool, error) { return false, boom })
		err := NewFilteringInterceptor(failing, SkipSilently, nil).Intercept(ctx, testEnvelope(), MessageHandlerFunc(func(context.Context, *contracts.Envelope) error { return nil }))
		assert.ErrorIs(t, err, boom)
	})
}

func TestConditionalInterceptor(t *testing.T) {
	ctx := context.Background()
	var ran bool
	inner := NewInterceptorFunc("marker", func(ctx context.Context, env *contracts.Envelope, next MessageHandler) error {
		ran = true
		return next.Handle(ctx, env)
	})
	final := MessageHandlerFunc(func(context.Context, *contracts.Envelope) error { return nil })

	conditional := NewConditionalInterceptor(NewKindFilter(contracts.KindCommand), inner)
	assert.Equal(t, "ConditionalInterceptor[marker]", conditional.Name())

	require.NoError(t, conditional.Intercept(ctx, testEnvelope(), final))
	assert.False(t, ran)

	conditional = NewConditionalInterceptor(NewKindFilter(contracts.KindEvent), inner)
	require.NoError(t, conditional.Intercept(ctx, testEnvelope(), final))
	assert.True(t, ran)
}
