package limitorder

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"interra/core/types"
	"interra/crypto"
)

const (
	EventTypeInitialized    = "limitorder.initialized"
	EventTypeConfigUpdated  = "limitorder.config_updated"
	EventTypeOrderOpened    = "limitorder.order_opened"
	EventTypeOrderExecuted  = "limitorder.order_executed"
	EventTypeOrderCancelled = "limitorder.order_cancelled"
)

// Initialized is emitted once when the global config singleton is created.
type Initialized struct {
	Owner          [20]byte
	PlatformFeeBps uint16
	Treasury       [20]byte
	Paused         bool
}

func (Initialized) EventType() string { return EventTypeInitialized }

func (e Initialized) Event() *types.Event {
	return &types.Event{
		Type:       EventTypeInitialized,
		Attributes: configAttributes(e.Owner, e.PlatformFeeBps, e.Treasury, e.Paused),
	}
}

// ConfigUpdated is emitted whenever the owner replaces the global config.
type ConfigUpdated struct {
	Owner          [20]byte
	PlatformFeeBps uint16
	Treasury       [20]byte
	Paused         bool
}

func (ConfigUpdated) EventType() string { return EventTypeConfigUpdated }

func (e ConfigUpdated) Event() *types.Event {
	return &types.Event{
		Type:       EventTypeConfigUpdated,
		Attributes: configAttributes(e.Owner, e.PlatformFeeBps, e.Treasury, e.Paused),
	}
}

// OrderOpened announces a newly escrowed order by its deterministic address.
type OrderOpened struct {
	ID [32]byte
}

func (OrderOpened) EventType() string { return EventTypeOrderOpened }

func (e OrderOpened) Event() *types.Event {
	return &types.Event{
		Type: EventTypeOrderOpened,
		Attributes: map[string]string{
			"order": hex.EncodeToString(e.ID[:]),
		},
	}
}

// OrderExecuted announces a fulfilled order. NativeTokenVolume carries the
// delivered native amount for native orders and zero for token orders.
type OrderExecuted struct {
	ID                [32]byte
	By                [20]byte
	NativeTokenVolume *big.Int
}

func (OrderExecuted) EventType() string { return EventTypeOrderExecuted }

func (e OrderExecuted) Event() *types.Event {
	volume := "0"
	if e.NativeTokenVolume != nil {
		volume = e.NativeTokenVolume.String()
	}
	return &types.Event{
		Type: EventTypeOrderExecuted,
		Attributes: map[string]string{
			"order":             hex.EncodeToString(e.ID[:]),
			"by":                crypto.NewAddress(crypto.ITRPrefix, e.By[:]).String(),
			"nativeTokenVolume": volume,
		},
	}
}

// OrderCancelled announces a refunded order.
type OrderCancelled struct {
	ID [32]byte
	By [20]byte
}

func (OrderCancelled) EventType() string { return EventTypeOrderCancelled }

func (e OrderCancelled) Event() *types.Event {
	return &types.Event{
		Type: EventTypeOrderCancelled,
		Attributes: map[string]string{
			"order": hex.EncodeToString(e.ID[:]),
			"by":    crypto.NewAddress(crypto.ITRPrefix, e.By[:]).String(),
		},
	}
}

func configAttributes(owner [20]byte, feeBps uint16, treasury [20]byte, paused bool) map[string]string {
	return map[string]string{
		"owner":          crypto.NewAddress(crypto.ITRPrefix, owner[:]).String(),
		"platformFeeBps": strconv.FormatUint(uint64(feeBps), 10),
		"treasury":       crypto.NewAddress(crypto.ITRPrefix, treasury[:]).String(),
		"paused":         strconv.FormatBool(paused),
	}
}
