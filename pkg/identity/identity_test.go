package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		index    int
		email    string
		cacheKey string
	}{
		{
			name:     "simple address",
			base:     "qa@qa.com",
			index:    0,
			email:    "qa_0@qa.com",
			cacheKey: "qa_0_qa.com",
		},
		{
			name:     "plus addressing is sanitised",
			base:     "test+robot@example.org",
			index:    7,
			email:    "test+robot_7@example.org",
			cacheKey: "test_robot_7_example.org",
		},
		{
			name:     "dots and dashes are kept",
			base:     "first.last-x@sub.example.co.uk",
			index:    12,
			email:    "first.last-x_12@sub.example.co.uk",
			cacheKey: "first.last-x_12_sub.example.co.uk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := Resolve(tt.base, tt.index)
			require.NoError(t, err)
			assert.Equal(t, tt.email, id.Email)
			assert.Equal(t, tt.cacheKey, id.CacheKey)
			assert.Equal(t, tt.index, id.WorkerIndex)
		})
	}
}

func TestResolve_Deterministic(t *testing.T) {
	a, err := Resolve("qa@qa.com", 3)
	require.NoError(t, err)
	b, err := Resolve("qa@qa.com", 3)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestResolve_DistinctWorkersNeverShareAKey(t *testing.T) {
	bases := []string{"qa@qa.com", "a+b@c.d", "x_1@y.z", "ünï@cødé.test"}

	for _, base := range bases {
		seen := make(map[string]int)
		for i := 0; i < 500; i++ {
			id, err := Resolve(base, i)
			require.NoError(t, err)
			if prev, dup := seen[id.CacheKey]; dup {
				t.Fatalf("base %q: workers %d and %d share cache key %q", base, prev, i, id.CacheKey)
			}
			seen[id.CacheKey] = i
		}
	}
}

func TestResolve_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		index   int
		wantErr error
	}{
		{name: "no at sign", base: "qa.qa.com", wantErr: ErrInvalidEmail},
		{name: "two at signs", base: "qa@qa@com", wantErr: ErrInvalidEmail},
		{name: "empty local part", base: "@qa.com", wantErr: ErrInvalidEmail},
		{name: "empty domain", base: "qa@", wantErr: ErrInvalidEmail},
		{name: "negative index", base: "qa@qa.com", index: -1, wantErr: ErrInvalidWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.base, tt.index)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "local_user", CacheKey("local_user"))
	assert.Equal(t, "a_b_c_d", CacheKey("a b/c\\d"))
	assert.Equal(t, "__", CacheKey("éé"))
}
