package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAppendAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.json")

	s, err := NewStore(path)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Count())

	rec := &Record{
		SourceChainID:      11155111,
		SourceChain:        "Ethereum Sepolia",
		DestinationChainID: 84532,
		DestinationChain:   "Base Sepolia",
		Amount:             "0.01",
		Symbol:             "ETH",
		AmountUSD:          35,
		TotalFeeUSD:        0.11,
		UserReceivesUSD:    34.89,
		Status:             StatusSubmitted,
		TxHash:             "0xabc",
	}
	require.NoError(t, s.Append(rec))
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.Timestamp.IsZero())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	reopened, err := NewStore(path)
	require.NoError(t, err)
	require.Equal(t, 1, reopened.Count())

	got, err := reopened.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", got.TxHash)
	assert.Equal(t, 34.89, got.UserReceivesUSD)

	got, err = reopened.Get(rec.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = reopened.Get("missing")
	assert.Error(t, err)
}

func TestStoreListOrderAndFilter(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.Append(&Record{Timestamp: base, Status: StatusSubmitted}))
	require.NoError(t, s.Append(&Record{Timestamp: base.Add(time.Hour), Status: StatusFailed, Error: "reverted"}))
	require.NoError(t, s.Append(&Record{Timestamp: base.Add(2 * time.Hour), Status: StatusSubmitted}))

	all := s.List()
	require.Len(t, all, 3)
	assert.Equal(t, base.Add(2*time.Hour), all[0].Timestamp)
	assert.Equal(t, base, all[2].Timestamp)

	failed := s.ListByStatus(StatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "reverted", failed[0].Error)

	assert.Len(t, s.ListByStatus(StatusSubmitted), 2)
}

func TestStoreRejectsDuplicateID(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)

	require.NoError(t, s.Append(&Record{ID: "fixed"}))
	assert.Error(t, s.Append(&Record{ID: "fixed"}))
	assert.Equal(t, 1, s.Count())
}

func TestNewStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewStore(path)
	assert.Error(t, err)
}
