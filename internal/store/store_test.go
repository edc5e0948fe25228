package store

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBackendContract exercises the behavior every Backend must share.
func testBackendContract(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := b.Get(ctx, "contract.missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "contract.a", []byte(`{"requests":[1]}`)))

		got, err := b.Get(ctx, "contract.a")
		require.NoError(t, err)
		assert.Equal(t, `{"requests":[1]}`, string(got))
	})

	t.Run("set replaces", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "contract.b", []byte("first")))
		require.NoError(t, b.Set(ctx, "contract.b", []byte("second")))

		got, err := b.Get(ctx, "contract.b")
		require.NoError(t, err)
		assert.Equal(t, "second", string(got))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "contract.c", []byte("x")))
		require.NoError(t, b.Delete(ctx, "contract.c"))

		_, err := b.Get(ctx, "contract.c")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete missing", func(t *testing.T) {
		assert.NoError(t, b.Delete(ctx, "contract.never-written"))
	})

	t.Run("unsafe key", func(t *testing.T) {
		key := "login_user@example.com/../etc"
		require.NoError(t, b.Set(ctx, key, []byte("v")))

		got, err := b.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "v", string(got))
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, b.Ping(ctx))
	})
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"login_alice", "login_alice"},
		{"api_10.0.0.1", "api_10.0.0.1"},
		{"login_user@example.com", "login_user_example.com"},
		{"a/b\\c:d", "a_b_c_d"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"quota.daily_k-1", "quota.daily_k-1"},
		{"", "_"},
		{"héllo", "h_llo"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeKey(tt.in))
		})
	}
}

func TestSanitizeKey_Long(t *testing.T) {
	a := strings.Repeat("a", 300)
	b := strings.Repeat("a", 299) + "b"

	sa, sb := SanitizeKey(a), SanitizeKey(b)
	assert.LessOrEqual(t, len(sa), maxKeyLength)
	assert.LessOrEqual(t, len(sb), maxKeyLength)
	assert.NotEqual(t, sa, sb)
	assert.Equal(t, sa, SanitizeKey(a))
}

func TestSanitizeKey_OnlySafeCharacters(t *testing.T) {
	for i := 0; i < 256; i++ {
		key := fmt.Sprintf("k%c", rune(i))
		for _, r := range SanitizeKey(key) {
			safe := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
				r == '.' || r == '-' || r == '_'
			assert.True(t, safe, "unexpected %q in sanitized %q", r, key)
		}
	}
}
