package history

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"rangeKeeper/internal/storage"
)

// Checkpoint records the last block scanned for one position in a KVStore,
// so the custody file or table also carries scan progress.
type Checkpoint struct {
	store storage.KVStore
	key   string
}

// NewCheckpoint returns the checkpoint of position id at manager. A nil
// store disables checkpointing.
func NewCheckpoint(store storage.KVStore, manager common.Address, id uint64) *Checkpoint {
	return &Checkpoint{
		store: store,
		key:   fmt.Sprintf("history/%s/%d/last_block", strings.ToLower(manager.Hex()), id),
	}
}

func (c *Checkpoint) Key() string { return c.key }

func (c *Checkpoint) Load(ctx context.Context) (uint64, bool, error) {
	if c == nil || c.store == nil {
		return 0, false, nil
	}
	raw, ok, err := c.store.Get(ctx, c.key)
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	block, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	return block, true, nil
}

func (c *Checkpoint) Save(ctx context.Context, lastProcessed uint64) error {
	if c == nil || c.store == nil {
		return nil
	}
	if err := c.store.Set(ctx, c.key, []byte(strconv.FormatUint(lastProcessed, 10))); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}
