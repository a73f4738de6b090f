package uploads

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "h1/imp/extrato.ofx", Key("h1", "imp", "extrato.ofx"))
	assert.Equal(t, "h1/imp/extrato.ofx", Key("h1", "imp", "../../etc/extrato.ofx"))
	assert.Equal(t, "h1/imp/fatura.jpg", Key("h1", "imp", `C:\Users\me\fatura.jpg`))
	assert.Equal(t, "h1/imp/upload", Key("h1", "imp", ""))
}

func TestStores(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	stores := map[string]interface {
		Put(context.Context, string, []byte) error
		Fetch(context.Context, string) ([]byte, error)
	}{
		"local":  local,
		"memory": NewMemory(),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key("h1", "imp-1", "extrato.ofx")

			require.NoError(t, s.Put(ctx, key, []byte("<OFX>")))
			data, err := s.Fetch(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "<OFX>", string(data))

			_, err = s.Fetch(ctx, "h1/imp-2/missing.ofx")
			assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

			for _, bad := range []string{"", "/abs", "a/../b", "a//b"} {
				assert.ErrorIs(t, s.Put(ctx, bad, nil), ErrInvalidKey, bad)
			}
		})
	}
}
