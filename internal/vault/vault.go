package vault

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Vault holds a single range deposit for its owner and repositions it on
// behalf of operators.
type Vault struct {
	address common.Address
	cfg     Config
	backend Backend
	store   KVStore
	sink    EventSink
	logger  *zap.Logger

	state    custody
	inFlight atomic.Bool
}

type custody struct {
	owner      common.Address
	positionID uint64
	maxLossPPM uint32
}

// New builds a vault at address. The sink may be nil, in which case events
// are only logged.
func New(cfg Config, address common.Address, backend Backend, store KVStore, sink EventSink, logger *zap.Logger) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if address == (common.Address{}) {
		return nil, errors.New("vault address is required")
	}
	if backend.Positions == nil || backend.Factory == nil || backend.Prices == nil ||
		backend.Quoter == nil || backend.Tokens == nil {
		return nil, errors.New("backend is missing a collaborator")
	}
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{
		address: address,
		cfg:     cfg,
		backend: backend,
		store:   store,
		sink:    sink,
		logger:  logger.With(zap.String("vault", strings.ToLower(address.Hex()))),
		state:   custody{maxLossPPM: cfg.MaxLossPPM},
	}, nil
}

// Load restores custody state previously persisted for this vault.
func (v *Vault) Load(ctx context.Context) error {
	state := custody{maxLossPPM: v.cfg.MaxLossPPM}

	raw, ok, err := v.store.Get(ctx, v.key(keyOwner))
	if err != nil {
		return fmt.Errorf("load owner: %w", err)
	}
	if ok {
		if !common.IsHexAddress(string(raw)) {
			return fmt.Errorf("load owner: invalid address %q", raw)
		}
		state.owner = common.HexToAddress(string(raw))
	}

	raw, ok, err = v.store.Get(ctx, v.key(keyPosition))
	if err != nil {
		return fmt.Errorf("load position: %w", err)
	}
	if ok {
		state.positionID, err = strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("load position: %w", err)
		}
	}

	raw, ok, err = v.store.Get(ctx, v.key(keyMaxLoss))
	if err != nil {
		return fmt.Errorf("load max loss: %w", err)
	}
	if ok {
		ppm, err := strconv.ParseUint(string(raw), 10, 32)
		if err != nil {
			return fmt.Errorf("load max loss: %w", err)
		}
		state.maxLossPPM = uint32(ppm)
	}

	v.state = state
	return nil
}

func (v *Vault) Address() common.Address { return v.address }
func (v *Vault) Config() Config { return v.cfg }
func (v *Vault) Owner() common.Address { return v.state.owner }
func (v *Vault) HeldPosition() uint64 { return v.state.positionID }
func (v *Vault) MaxLossPPM() uint32 { return v.state.maxLossPPM }

const (
	keyOwner    = "owner"
	keyPosition = "position"
	keyMaxLoss  = "max_loss_ppm"
	keyOperator = "operator"
)

// StateKey returns the store key under which the vault at address keeps
// the named slot.
func StateKey(address common.Address, parts ...string) string {
	return "vault/" + strings.ToLower(address.Hex()) + "/" + strings.Join(parts, "/")
}

func (v *Vault) key(parts ...string) string {
	return StateKey(v.address, parts...)
}

func (v *Vault) saveOwner(ctx context.Context, owner common.Address) error {
	return v.store.Set(ctx, v.key(keyOwner), []byte(owner.Hex()))
}

func (v *Vault) savePosition(ctx context.Context, id uint64) error {
	return v.store.Set(ctx, v.key(keyPosition), []byte(strconv.FormatUint(id, 10)))
}

func (v *Vault) saveMaxLoss(ctx context.Context, ppm uint32) error {
	return v.store.Set(ctx, v.key(keyMaxLoss), []byte(strconv.FormatUint(uint64(ppm), 10)))
}

func (v *Vault) now() time.Time {
	if v.backend.Clock != nil {
		return v.backend.Clock()
	}
	return time.Now()
}

func (v *Vault) deadline() uint64 {
	return uint64(v.now().Add(v.cfg.DeadlineWindow).Unix())
}

// atomically runs fn with the backend journal snapshotted. When fn fails the
// journal and the in-memory custody copy are restored.
func (v *Vault) atomically(op string, fn func() error) (err error) {
	saved := v.state
	snapshot := -1
	if v.backend.Journal != nil {
		snapshot = v.backend.Journal.Snapshot()
	}
	defer func() {
		recovered := recover()
		if recovered != nil {
			if !isOverflow(recovered) {
				v.rollback(saved, snapshot)
				panic(recovered)
			}
			err = fmt.Errorf("%s: %w", op, ErrArithmeticOverflow)
		}
		if err != nil {
			v.rollback(saved, snapshot)
			v.logger.Warn("operation aborted", zap.String("op", op), zap.Error(err))
			return
		}
		if snapshot >= 0 {
			v.backend.Journal.DiscardSnapshot(snapshot)
		}
	}()
	return fn()
}

func (v *Vault) rollback(saved custody, snapshot int) {
	v.state = saved
	if snapshot >= 0 {
		v.backend.Journal.RevertToSnapshot(snapshot)
	}
}
