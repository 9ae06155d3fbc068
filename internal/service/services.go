package service

import (
	redisx "github.com/ostrovok-lab/gatecheck/internal/redis"
	postgres "github.com/ostrovok-lab/gatecheck/internal/repository/postgres"
	redisrepo "github.com/ostrovok-lab/gatecheck/internal/repository/redis"
	"github.com/ostrovok-lab/gatecheck/internal/service/admin"
	"github.com/ostrovok-lab/gatecheck/internal/service/inventory"
	"github.com/ostrovok-lab/gatecheck/internal/service/orders"
	"github.com/ostrovok-lab/gatecheck/internal/service/reservation"
)

type Services struct {
	Reservation *reservation.Service
	Inventory   *inventory.Service
	Orders      *orders.Service
	Admin       *admin.Service
}

type Config struct {
	Reservation reservation.Config
	Inventory   inventory.Config
}

func NewServices(
	store *postgres.Store,
	cache *redisrepo.Cache,
	pubsub *redisx.InventoryPubSub,
	rates *redisrepo.SlidingWindow,
	limiter *redisrepo.SlidingWindow,
	cfg Config,
) *Services {
	holds := store.Holds()

	var rateSource reservation.RateSource
	if rates != nil {
		rateSource = rates
	}

	return &Services{
		Reservation: reservation.New(holds, rateSource, cache, pubsub, limiter, cfg.Reservation),
		Inventory:   inventory.New(store.Inventory(), holds, cache, cfg.Inventory),
		Orders:      orders.New(store.Orders(), cache, pubsub),
		Admin:       admin.New(store.Provision()),
	}
}
