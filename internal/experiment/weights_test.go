package experiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/norns/internal/store"
)

func TestExpand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		conditions []string
		wantKeys   []string
		wantPool   []string
		wantErr    bool
	}{
		{
			name:       "Plain keys form the pool",
			conditions: []string{"red", "blue"},
			wantKeys:   []string{"red", "blue"},
			wantPool:   []string{"red", "blue"},
		},
		{
			name:       "Weighted key appears n times, unweighted once",
			conditions: []string{"A[3]", "B"},
			wantKeys:   []string{"A[3]", "B"},
			wantPool:   []string{"A[3]", "A[3]", "A[3]", "B"},
		},
		{
			name:       "Duplicates collapse to first occurrence",
			conditions: []string{"red", "blue", "red"},
			wantKeys:   []string{"red", "blue"},
			wantPool:   []string{"red", "blue"},
		},
		{
			name:       "Brackets inside the key are not a weight",
			conditions: []string{"[promo]banner", "plain"},
			wantKeys:   []string{"[promo]banner", "plain"},
			wantPool:   []string{"[promo]banner", "plain"},
		},
		{name: "Empty set is rejected", conditions: nil, wantErr: true},
		{name: "Empty key is rejected", conditions: []string{"a", ""}, wantErr: true},
		{name: "Zero weight is malformed", conditions: []string{"A[0]", "B"}, wantErr: true},
		{name: "Non numeric weight is malformed", conditions: []string{"A[x]"}, wantErr: true},
		{name: "Signed weight is malformed", conditions: []string{"A[+2]"}, wantErr: true},
		{name: "Empty brackets are malformed", conditions: []string{"A[]"}, wantErr: true},
		{name: "Weight above maximum is rejected", conditions: []string{"A[1001]"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := expand(tt.conditions)

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKeys, got.keys)
			assert.Equal(t, tt.wantPool, got.pool)
		})
	}
}

func TestExpand_MaxWeightAccepted(t *testing.T) {
	t.Parallel()

	got, err := expand([]string{"A[1000]", "B"})

	require.NoError(t, err)
	assert.Len(t, got.pool, MaxWeight+1)
}

func TestLeastUsed(t *testing.T) {
	t.Parallel()

	cands, err := expand([]string{"a", "b", "c"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		counts    []store.ValueCount
		threshold int
		wantValue string
		wantOK    bool
	}{
		{
			name:   "No history",
			counts: nil, threshold: 3,
		},
		{
			name:   "Single dominant value does not force",
			counts: []store.ValueCount{{Value: "a", Count: 50}}, threshold: 3,
		},
		{
			name:   "Equal counts do not force",
			counts: []store.ValueCount{{Value: "a", Count: 9}, {Value: "b", Count: 9}}, threshold: 3,
		},
		{
			name:   "Skew within tolerance does not force",
			counts: []store.ValueCount{{Value: "a", Count: 5}, {Value: "b", Count: 2}}, threshold: 3,
		},
		{
			name:      "Skew above tolerance forces least used",
			counts:    []store.ValueCount{{Value: "a", Count: 6}, {Value: "b", Count: 2}},
			threshold: 3, wantValue: "b", wantOK: true,
		},
		{
			name: "Tie on minimum goes to first seen",
			counts: []store.ValueCount{
				{Value: "c", Count: 1}, {Value: "a", Count: 9}, {Value: "b", Count: 1},
			},
			threshold: 3, wantValue: "c", wantOK: true,
		},
		{
			name: "Retired values are ignored",
			counts: []store.ValueCount{
				{Value: "retired", Count: 0}, {Value: "a", Count: 5}, {Value: "b", Count: 4},
			},
			threshold: 3,
		},
		{
			name:      "Zero threshold corrects any skew",
			counts:    []store.ValueCount{{Value: "a", Count: 2}, {Value: "b", Count: 1}},
			threshold: 0, wantValue: "b", wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			value, ok := leastUsed(tt.counts, cands, tt.threshold)

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}
